package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	World     WorldConfig     `yaml:"world"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host            string `yaml:"host"`
	TCPPort         int    `yaml:"tcp_port"`
	RESTPort        int    `yaml:"rest_port"`
	MetricsPort     int    `yaml:"metrics_port"`
	MOTD            string `yaml:"motd"`
	VersionName     string `yaml:"version_name"`
	ProtocolVersion int    `yaml:"protocol_version"`
	MaxPlayers      int    `yaml:"max_players"`
	FaviconPath     string `yaml:"favicon"`
	ViewDistance    int    `yaml:"view_distance"`
	TickRate        int    `yaml:"tick_rate"`
	// Интервалы keepalive в тиках
	KeepAliveInterval int           `yaml:"keepalive_interval_ticks"`
	KeepAliveTimeout  int           `yaml:"keepalive_timeout_ticks"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	// OutboundQueue кадров в очереди отправки сессии, при переполнении игрок отключается
	OutboundQueue     int           `yaml:"outbound_queue"`
	// InboundQueue пакетов, принятых от игрока и еще не обработанных тиком
	InboundQueue      int           `yaml:"inbound_queue"`
	Gamemode          int           `yaml:"gamemode"`
	Difficulty        int           `yaml:"difficulty"`
	LevelType         string        `yaml:"level_type"`
}

type WorldConfig struct {
	Backend     string        `yaml:"backend"` // file | badger
	Path        string        `yaml:"path"`
	Generator   string        `yaml:"generator"` // flat | noise
	Seed        int64         `yaml:"seed"`
	Dimension   int           `yaml:"dimension"`
	SpawnRadius int           `yaml:"spawn_radius"`
	SpawnX      int           `yaml:"spawn_x"`
	SpawnY      int           `yaml:"spawn_y"`
	SpawnZ      int           `yaml:"spawn_z"`
	Autosave    time.Duration `yaml:"autosave"`
}

type StorageConfig struct {
	Positions string      `yaml:"positions"` // memory | redis | mysql | sqlite
	Redis     RedisConfig `yaml:"redis"`
	SQLDSN    string      `yaml:"sql_dsn"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	// Endpoint host:port OTLP HTTP коллектора, пусто - localhost:4318
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Default возвращает конфигурацию, с которой сервер стартует без файла.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			MOTD:              "A blockcraft server",
			VersionName:       "1.7.10",
			ProtocolVersion:   5,
			MaxPlayers:        20,
			ViewDistance:      8,
			TickRate:          20,
			KeepAliveInterval: 100,
			KeepAliveTimeout:  600,
			ReadTimeout:       time.Second,
			WriteTimeout:      5 * time.Second,
			OutboundQueue:     1024,
			InboundQueue:      1024,
			Gamemode:          1,
			Difficulty:        0,
			LevelType:         "flat",
		},
		World: WorldConfig{
			Backend:     "file",
			Path:        "server/world.json",
			Generator:   "flat",
			SpawnRadius: 4,
			SpawnY:      6,
			Autosave:    5 * time.Minute,
		},
		Storage: StorageConfig{
			Positions: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				TTL:  24 * time.Hour,
			},
		},
		EventBus: EventBusConfig{
			Stream:    "EVENTS",
			Retention: 24,
			Buffer:    1024,
		},
		Logging: LoggingConfig{
			Dir:          "logs",
			ConsoleLevel: "info",
			FileLevel:    "debug",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "blockcraft",
		},
	}
}

// GetTCPPort возвращает игровой TCP порт с поддержкой fallback значений
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "GAME_TCP_PORT", 25565)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "GAME_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "GAME_METRICS_PORT", 2112)
}

// ListenAddr адрес игрового слушателя host:port
func (s *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GetTCPPort())
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений Default().
// Если path == "", пытается прочитать из ENV GAME_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GAME_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, с которыми сервер не сможет работать.
func (c *Config) Validate() error {
	if c.Server.TickRate <= 0 || c.Server.TickRate > 1000 {
		return fmt.Errorf("server.tick_rate вне диапазона: %d", c.Server.TickRate)
	}
	if c.Server.ViewDistance < 2 || c.Server.ViewDistance > 32 {
		return fmt.Errorf("server.view_distance вне диапазона 2..32: %d", c.Server.ViewDistance)
	}
	if c.Server.KeepAliveInterval <= 0 || c.Server.KeepAliveTimeout <= 0 {
		return fmt.Errorf("keepalive интервалы должны быть положительными")
	}
	if c.Server.OutboundQueue < 0 || c.Server.InboundQueue < 0 {
		return fmt.Errorf("размеры очередей сессии не могут быть отрицательными")
	}
	if c.Server.MaxPlayers <= 0 || c.Server.MaxPlayers > 255 {
		return fmt.Errorf("server.max_players вне диапазона 1..255: %d", c.Server.MaxPlayers)
	}
	switch c.World.Backend {
	case "file", "badger":
	default:
		return fmt.Errorf("неизвестный world.backend: %q", c.World.Backend)
	}
	switch c.World.Generator {
	case "flat", "noise":
	default:
		return fmt.Errorf("неизвестный world.generator: %q", c.World.Generator)
	}
	switch c.Storage.Positions {
	case "memory", "redis", "mysql", "sqlite":
	default:
		return fmt.Errorf("неизвестный storage.positions: %q", c.Storage.Positions)
	}
	return nil
}
