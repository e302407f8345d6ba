package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/blockcraft/internal/api"
	"github.com/annel0/blockcraft/internal/config"
	"github.com/annel0/blockcraft/internal/eventbus"
	"github.com/annel0/blockcraft/internal/logging"
	"github.com/annel0/blockcraft/internal/network"
	"github.com/annel0/blockcraft/internal/observability"
	"github.com/annel0/blockcraft/internal/storage"
	"github.com/annel0/blockcraft/internal/vec"
	"github.com/annel0/blockcraft/internal/world"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или ENV GAME_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.Configure(cfg.Logging.Dir,
		logging.ParseLevel(cfg.Logging.ConsoleLevel),
		logging.ParseLevel(cfg.Logging.FileLevel))
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.GetLoggerManager().CloseAll()
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

// run поднимает все компоненты и блокируется до SIGINT/SIGTERM
func run(cfg *config.Config) error {
	logging.Info("🎮 Запуск сервера %s (протокол %d)", cfg.Server.VersionName, cfg.Server.ProtocolVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("остановка телеметрии: %v", err)
		}
	}()

	// === ХРАНИЛИЩА ===
	store, err := openWorldStore(cfg.World)
	if err != nil {
		return err
	}
	defer store.Close()

	w, err := loadWorld(ctx, store, cfg.World)
	if err != nil {
		return err
	}

	positions, err := openPositionRepo(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer positions.Close()

	// === МЕТРИКИ И ШИНА СОБЫТИЙ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus, err := openEventBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	listener, err := eventbus.StartLoggingListener(bus, logging.GetGameLogger())
	if err != nil {
		return fmt.Errorf("подписка логгера событий: %w", err)
	}
	defer listener.Unsubscribe()

	exporter, err := eventbus.NewMetricsExporter(bus, reg, 5*time.Second)
	if err != nil {
		return err
	}
	exporter.Start()
	defer exporter.Stop()

	// === ИГРОВОЙ СЕРВЕР ===
	srv, err := network.New(cfg, w, network.Deps{
		Store:      store,
		Positions:  positions,
		Bus:        bus,
		Registerer: reg,
	})
	if err != nil {
		return fmt.Errorf("создание игрового сервера: %w", err)
	}
	if err := srv.Listen(cfg.Server.ListenAddr()); err != nil {
		return err
	}

	// === REST API ===
	rest, err := api.NewRestServer(api.Config{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetRESTPort()),
		ServiceName: "rest_api",
		Provider:    srv,
		Registerer:  reg,
		Gatherer:    reg,
	})
	if err != nil {
		return fmt.Errorf("создание REST API: %w", err)
	}
	if err := rest.ListenAndStart(); err != nil {
		return err
	}

	metricsSrv := startMetricsServer(cfg.Server, reg)

	logging.Info("✅ Все сервисы запущены: игра %s, REST :%d", srv.Addr(), cfg.Server.GetRESTPort())

	// Run возвращается после отмены ctx и полной остановки: слушатель закрыт,
	// игроки отключены, мир сохранен
	runErr := srv.Run(ctx)
	logging.Info("📡 Получен сигнал завершения, остановка сервисов...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rest.Stop(stopCtx); err != nil {
		logging.Error("❌ %v", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(stopCtx); err != nil {
			logging.Error("❌ Остановка сервера метрик: %v", err)
		}
	}
	return runErr
}

// openWorldStore открывает хранилище мира выбранного типа
func openWorldStore(cfg config.WorldConfig) (storage.WorldStore, error) {
	switch cfg.Backend {
	case "badger":
		s, err := storage.NewBadgerWorldStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("открытие badger %s: %w", cfg.Path, err)
		}
		logging.Info("💾 Мир хранится в Badger: %s", cfg.Path)
		return s, nil
	default:
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "world.json")
		}
		s, err := storage.NewFileWorldStore(path)
		if err != nil {
			return nil, fmt.Errorf("открытие файла мира %s: %w", path, err)
		}
		logging.Info("💾 Мир хранится в файле: %s", path)
		return s, nil
	}
}

// loadWorld загружает мир и подготавливает область вокруг спавна.
// Для пустого мира точка спавна берется из конфигурации или с поверхности.
func loadWorld(ctx context.Context, store storage.WorldStore, cfg config.WorldConfig) (*world.World, error) {
	gen, err := world.NewGenerator(cfg.Generator, cfg.Seed)
	if err != nil {
		return nil, err
	}

	w, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("загрузка мира: %w", err)
	}
	w.SetGenerator(gen)

	if w.ColumnCount() == 0 {
		w.Dimension = int8(cfg.Dimension)
		if cfg.SpawnY > 0 {
			w.Spawn = vec.Vec3{X: cfg.SpawnX, Y: cfg.SpawnY, Z: cfg.SpawnZ}
		} else {
			w.Spawn = w.SurfaceSpawn(cfg.SpawnX, cfg.SpawnZ)
		}
		logging.Info("🌱 Новый мир (%s, seed=%d), спавн %v", cfg.Generator, cfg.Seed, w.Spawn)
	} else {
		logging.Info("🌍 Загружен мир: %d колонок, спавн %v", w.ColumnCount(), w.Spawn)
	}

	start := time.Now()
	n := w.GenerateRegion(w.Spawn.Chunk(), int32(cfg.SpawnRadius))
	if n > 0 {
		logging.Info("Сгенерировано %d колонок вокруг спавна за %v", n, time.Since(start))
	}
	return w, nil
}

// openPositionRepo выбирает хранилище позиций игроков
func openPositionRepo(ctx context.Context, cfg config.StorageConfig) (storage.PositionRepo, error) {
	switch cfg.Positions {
	case "redis":
		rc := storage.DefaultRedisConfig()
		if cfg.Redis.Addr != "" {
			rc.Addr = cfg.Redis.Addr
		}
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		if cfg.Redis.TTL > 0 {
			rc.TTL = cfg.Redis.TTL
		}
		repo, err := storage.NewRedisPositionRepo(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("подключение к Redis: %w", err)
		}
		logging.Info("📍 Позиции игроков в Redis: %s", rc.Addr)
		return repo, nil
	case storage.DialectMySQL, storage.DialectSQLite:
		repo, err := storage.NewSQLPositionRepo(ctx, cfg.Positions, cfg.SQLDSN)
		if err != nil {
			return nil, err
		}
		logging.Info("📍 Позиции игроков в %s", cfg.Positions)
		return repo, nil
	default:
		logging.Info("📍 Позиции игроков в памяти процесса")
		return storage.NewMemoryPositionRepo(), nil
	}
}

// openEventBus JetStream при заданном URL, иначе шина в памяти
func openEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		logging.Info("📨 Шина событий в памяти (буфер %d)", cfg.Buffer)
		return eventbus.NewMemoryBus(cfg.Buffer), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("подключение к JetStream %s: %w", cfg.URL, err)
	}
	logging.Info("📨 Шина событий JetStream: %s", cfg.URL)
	return bus, nil
}

// startMetricsServer отдельный /metrics для Prometheus, если порт отличается от REST
func startMetricsServer(cfg config.ServerConfig, g prometheus.Gatherer) *http.Server {
	port := cfg.GetMetricsPort()
	if port == 0 || port == cfg.GetRESTPort() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logging.Warn("сервер метрик %s не запущен: %v", srv.Addr, err)
		return nil
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Сервер метрик: %v", err)
		}
	}()
	logging.Info("📊 Метрики Prometheus: http://%s/metrics", srv.Addr)
	return srv
}
