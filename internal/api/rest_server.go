package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/blockcraft/internal/logging"
	"github.com/annel0/blockcraft/internal/middleware"
	"github.com/annel0/blockcraft/internal/network"
	"github.com/annel0/blockcraft/internal/protocol"
)

// StateProvider источник данных REST API. Реализуется network.Server;
// оба метода безопасны из любой горутины.
type StateProvider interface {
	Snapshot() *network.Snapshot
	Status() protocol.StatusDocument
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr        string // адрес прослушивания, по умолчанию ":8088"
	ServiceName string // имя сервиса для otelgin и префикс HTTP метрик
	Provider    StateProvider
	Registerer  prometheus.Registerer
	Gatherer    prometheus.Gatherer
	Logger      *logging.Logger
}

// RestServer административный REST API сервер
type RestServer struct {
	router     *gin.Engine
	httpServer *http.Server
	provider   StateProvider
	metrics    *ProcessMetrics
	log        *logging.Logger
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthInfo ответ /health
type HealthInfo struct {
	Status     string  `json:"status"`
	Uptime     string  `json:"uptime"`
	MemoryMB   float64 `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
}

// WorldInfo ответ /api/world
type WorldInfo struct {
	Dimension int8    `json:"dimension"`
	Columns   int     `json:"columns"`
	Tick      uint64  `json:"tick"`
	TPS       float64 `json:"tps"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.Provider == nil {
		return nil, errors.New("api: не задан источник состояния")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rest_api"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetAPILogger()
	}

	router := gin.New()        // без стандартного logger
	router.Use(gin.Recovery()) // добавим только recovery

	// otelgin раньше логгера, чтобы trace-id в логах совпадал со span
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())

	httpMetrics, err := middleware.NewHTTPMetrics(cfg.ServiceName, cfg.Registerer)
	if err != nil {
		return nil, err
	}
	router.Use(httpMetrics.Handler())
	router.GET("/metrics", middleware.MetricsHandler(cfg.Gatherer))

	rs := &RestServer{
		router:   router,
		provider: cfg.Provider,
		metrics:  NewProcessMetrics(),
		log:      cfg.Logger,
	}
	rs.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/status", rs.handleStatus)
		api.GET("/players", rs.handlePlayers)
		api.GET("/world", rs.handleWorld)
	}
}

// Handler HTTP обработчик, используется в тестах
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// handleHealth проверка состояния процесса
func (rs *RestServer) handleHealth(c *gin.Context) {
	cpuPercent, err := rs.metrics.CPUPercent()
	if err != nil {
		rs.log.Debug("cpu: %v", err)
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "ok",
		Data: HealthInfo{
			Status:     "ok",
			Uptime:     rs.metrics.Uptime(),
			MemoryMB:   rs.metrics.MemoryMB(),
			CPUPercent: cpuPercent,
			Goroutines: runtime.NumGoroutine(),
		},
	})
}

// handleStatus тот же документ, что получает клиент на status запрос
func (rs *RestServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статус сервера",
		Data:    rs.provider.Status(),
	})
}

// handlePlayers список игроков из последнего снимка
func (rs *RestServer) handlePlayers(c *gin.Context) {
	snap := rs.provider.Snapshot()
	players := snap.Players
	if players == nil {
		players = []network.PlayerInfo{}
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Игроков онлайн: %d", len(players)),
		Data:    players,
	})
}

func (rs *RestServer) handleWorld(c *gin.Context) {
	snap := rs.provider.Snapshot()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние мира",
		Data: WorldInfo{
			Dimension: snap.Dimension,
			Columns:   snap.Columns,
			Tick:      snap.Tick,
			TPS:       snap.TPS,
		},
	})
}

// Start начинает прием запросов на ln в отдельной горутине
func (rs *RestServer) Start(ln net.Listener) {
	rs.log.Info("🌐 REST API слушает %s", ln.Addr())
	go func() {
		if err := rs.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rs.log.Error("❌ Ошибка REST API сервера: %v", err)
		}
	}()
}

// ListenAndStart открывает адрес из конфигурации и запускает сервер
func (rs *RestServer) ListenAndStart() error {
	ln, err := net.Listen("tcp", rs.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", rs.httpServer.Addr, err)
	}
	rs.Start(ln)
	return nil
}

// Stop останавливает сервер, дожидаясь завершения активных запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.log.Info("🛑 Остановка REST API сервера...")
	if err := rs.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("остановка REST API: %w", err)
	}
	return nil
}
