package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ethscore/internal/domain"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, domain.SourceFile, cfg.Model.Source)
	assert.Equal(t, "./trained_xgb_model.json", cfg.Model.Path)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, 2, cfg.Repository.MaxIdleConns)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ETHSCORE_PORT", "9090")
	t.Setenv("ETHSCORE_MODEL_SOURCE", "sql")
	t.Setenv("ETHSCORE_MODEL_NAME", "eth_fraud")
	t.Setenv("ETHSCORE_MODEL_VERSION", "v4")
	t.Setenv("ETHSCORE_DB_DRIVER", "postgres")
	t.Setenv("ETHSCORE_POSTGRES_PORT", "6543")
	t.Setenv("ETHSCORE_DB_MAX_OPEN_CONNS", "12")
	t.Setenv("ETHSCORE_DB_MAX_IDLE_CONNS", "6")
	t.Setenv("ETHSCORE_DB_CONN_MAX_LIFETIME", "5m")
	t.Setenv("ETHSCORE_BUS", "kafka")
	t.Setenv("ETHSCORE_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ETHSCORE_TRACING_ENABLED", "true")
	t.Setenv("ETHSCORE_ALERT_WORKER", "false")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, domain.SourceSQL, cfg.Model.Source)
	assert.Equal(t, "eth_fraud", cfg.Model.Name)
	assert.Equal(t, "v4", cfg.Model.Version)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, 6543, cfg.Repository.PostgresPort)
	assert.Equal(t, 12, cfg.Repository.MaxOpenConns)
	assert.Equal(t, 6, cfg.Repository.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.Repository.ConnMaxLifetime)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.EventBus.KafkaBrokers)
	assert.True(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.AlertWorker)
}

func TestLoadDebugOverridesLevel(t *testing.T) {
	t.Setenv("ETHSCORE_LOG_LEVEL", "warn")
	t.Setenv("ETHSCORE_DEBUG", "true")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ETHSCORE_PORT", "eighty")
	t.Setenv("ETHSCORE_METRICS_ENABLED", "maybe")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	tests := map[string]string{
		"ETHSCORE_MODEL_SOURCE": "s3",
		"ETHSCORE_MODEL_FORMAT": "onnx",
		"ETHSCORE_DB_DRIVER":    "mysql",
		"ETHSCORE_BUS":          "amqp",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(noEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ETHSCORE_MODEL_PATH=/models/etfd.json\nETHSCORE_LOG_FORMAT=text\n"), 0o644))

	// Process environment wins over the file
	t.Setenv("ETHSCORE_LOG_FORMAT", "json")
	t.Cleanup(func() { os.Unsetenv("ETHSCORE_MODEL_PATH") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/models/etfd.json", cfg.Model.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a ,, b "))
	assert.Empty(t, splitCSV(""))
}
