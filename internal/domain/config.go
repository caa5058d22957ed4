package domain

import (
	"fmt"
	"time"
)

// Config holds the complete ethscore configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Model artifact location
	Model ModelConfig `json:"model"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Redis      RedisConfig      `json:"redis"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`

	// AlertWorker enables the in-process consumer of high risk alerts.
	AlertWorker bool `json:"alertWorker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// Artifact sources.
const (
	SourceFile  = "file"
	SourceSQL   = "sql"
	SourceRedis = "redis"
)

// ModelConfig tells the service where to load the classifier from.
type ModelConfig struct {
	// Source is one of "file", "sql" or "redis"
	Source string `json:"source"`

	// Path is the artifact file for the file source
	Path string `json:"path"`

	// Name identifies the artifact in the registry
	Name string `json:"name"`

	// Version pins a registry version; empty means latest
	Version string `json:"version"`

	// Format overrides format detection for the file source
	Format string `json:"format"`

	// RedisKey holds a JSON-encoded Artifact for the redis source
	RedisKey string `json:"redisKey"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP gRPC collector
	Insecure    bool   `json:"insecure"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DefaultConfig returns a configuration that serves a local artifact file
// with in-process events.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Model: ModelConfig{
			Source:   SourceFile,
			Path:     "./trained_xgb_model.json",
			Name:     "trained_xgb_model",
			RedisKey: "ethscore:artifact:trained_xgb_model",
		},
		Repository: RepositoryConfig{
			Driver:          "sqlite",
			SQLitePath:      "./ethscore.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "ethscore",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		AlertWorker: true,
	}
}

// Validate checks that the configuration names known backends.
func (c *Config) Validate() error {
	switch c.Model.Source {
	case SourceFile:
		if c.Model.Path == "" {
			return fmt.Errorf("model path is required for source %q", SourceFile)
		}
	case SourceSQL:
		if c.Model.Name == "" {
			return fmt.Errorf("model name is required for source %q", SourceSQL)
		}
	case SourceRedis:
		if c.Model.RedisKey == "" {
			return fmt.Errorf("model redis key is required for source %q", SourceRedis)
		}
	default:
		return fmt.Errorf("unsupported model source: %q", c.Model.Source)
	}

	switch c.Model.Format {
	case "", FormatXGBoostJSON, FormatCEL:
	default:
		return fmt.Errorf("unsupported model format: %q", c.Model.Format)
	}

	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %q", c.Repository.Driver)
	}

	switch c.EventBus.Type {
	case "none", "channel", "nats", "kafka":
	default:
		return fmt.Errorf("unsupported event bus type: %q", c.EventBus.Type)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}
