// Package config builds the service configuration from defaults, an
// optional .env file and ETHSCORE_* environment variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/ethscore/internal/domain"
)

// Load reads configuration from environment variables on top of
// domain.DefaultConfig. Files in envFiles (default ".env") are loaded
// first if present; variables already set in the environment win.
func Load(envFiles ...string) (*domain.Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, err
		}
	}

	cfg := domain.DefaultConfig()

	// Server
	cfg.Server.Host = getEnv("ETHSCORE_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("ETHSCORE_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvInt("ETHSCORE_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvInt("ETHSCORE_WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	// Model artifact
	cfg.Model.Source = getEnv("ETHSCORE_MODEL_SOURCE", cfg.Model.Source)
	cfg.Model.Path = getEnv("ETHSCORE_MODEL_PATH", cfg.Model.Path)
	cfg.Model.Name = getEnv("ETHSCORE_MODEL_NAME", cfg.Model.Name)
	cfg.Model.Version = getEnv("ETHSCORE_MODEL_VERSION", cfg.Model.Version)
	cfg.Model.Format = getEnv("ETHSCORE_MODEL_FORMAT", cfg.Model.Format)
	cfg.Model.RedisKey = getEnv("ETHSCORE_MODEL_REDIS_KEY", cfg.Model.RedisKey)

	// Registry
	cfg.Repository.Driver = getEnv("ETHSCORE_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("ETHSCORE_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("ETHSCORE_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("ETHSCORE_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("ETHSCORE_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("ETHSCORE_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("ETHSCORE_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("ETHSCORE_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)
	cfg.Repository.MaxOpenConns = getEnvInt("ETHSCORE_DB_MAX_OPEN_CONNS", cfg.Repository.MaxOpenConns)
	cfg.Repository.MaxIdleConns = getEnvInt("ETHSCORE_DB_MAX_IDLE_CONNS", cfg.Repository.MaxIdleConns)
	cfg.Repository.ConnMaxLifetime = getEnvDuration("ETHSCORE_DB_CONN_MAX_LIFETIME", cfg.Repository.ConnMaxLifetime)

	// Redis
	cfg.Redis.Addr = getEnv("ETHSCORE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("ETHSCORE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("ETHSCORE_REDIS_DB", cfg.Redis.DB)

	// Event bus
	cfg.EventBus.Type = getEnv("ETHSCORE_BUS", cfg.EventBus.Type)
	cfg.EventBus.ChannelBufferSize = getEnvInt("ETHSCORE_BUS_BUFFER", cfg.EventBus.ChannelBufferSize)
	cfg.EventBus.NATSUrl = getEnv("ETHSCORE_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("ETHSCORE_NATS_TOKEN", cfg.EventBus.NATSToken)
	if brokers := os.Getenv("ETHSCORE_KAFKA_BROKERS"); brokers != "" {
		cfg.EventBus.KafkaBrokers = splitCSV(brokers)
	}
	cfg.EventBus.KafkaGroupID = getEnv("ETHSCORE_KAFKA_GROUP", cfg.EventBus.KafkaGroupID)

	// Observability
	cfg.Logging.Level = getEnv("ETHSCORE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("ETHSCORE_LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("ETHSCORE_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Enabled = getEnvBool("ETHSCORE_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = getEnv("ETHSCORE_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.Endpoint = getEnv("ETHSCORE_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Insecure = getEnvBool("ETHSCORE_OTLP_INSECURE", cfg.Tracing.Insecure)
	cfg.Metrics.Enabled = getEnvBool("ETHSCORE_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Path = getEnv("ETHSCORE_METRICS_PATH", cfg.Metrics.Path)

	cfg.AlertWorker = getEnvBool("ETHSCORE_ALERT_WORKER", cfg.AlertWorker)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		slog.Warn("ignoring invalid integer", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		slog.Warn("ignoring invalid boolean", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", value)
	}
	return defaultValue
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
