package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "gradient-config-*.yaml")
	require.NoError(t, err)
	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
general:
  instance_id: "gradient-test"
  environment: "development"
  dry_run: true
  log_level: "debug"

kafka:
  brokers:
    - "localhost:19092"

postgres:
  host: "db.internal"
  database: "gradient_test"

feed:
  dedup_capacity: 4096
  pumpportal:
    enabled: true
  raydium:
    enabled: true
    endpoint: "wss://rpc.internal"

executor:
  max_attempts: 5
  platform_fee_bps: 100

api:
  port: 8888
  jwt_secret: "shhh"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gradient-test", cfg.General.InstanceID)
	assert.True(t, cfg.General.DryRun)
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "gradient_test", cfg.Postgres.Database)
	assert.Equal(t, 4096, cfg.Feed.DedupCapacity)
	assert.True(t, cfg.Feed.Raydium.Enabled)
	assert.Equal(t, "wss://rpc.internal", cfg.Feed.Raydium.Endpoint)
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
	assert.Equal(t, 100, cfg.Executor.PlatformFeeBps)
	assert.Equal(t, 8888, cfg.API.Port)
	assert.Equal(t, "shhh", cfg.API.JWTSecret)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
general:
  dry_run: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gradient-core", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "1.0.0", cfg.Kafka.SchemaVersion)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "clickhouse://localhost:9000/gradient", cfg.ClickHouse.DSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.RPC.Endpoint)
	assert.Equal(t, 0.001, cfg.Jito.TipSOL)
	assert.Equal(t, "wss://pumpportal.fun/api/data", cfg.Feed.PumpPortal.Endpoint)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("GRADIENT_PG_PASSWORD", "hunter2")
	path := writeConfig(t, `
postgres:
  password: "${GRADIENT_PG_PASSWORD}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
