package config

import (
	"testing"
	"time"

	"github.com/platinummonkey/reindexer/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "REINDEXER_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "REINDEXER_TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("REINDEXER_T_INT", "12")
	t.Setenv("REINDEXER_T_BAD_INT", "twelve")
	t.Setenv("REINDEXER_T_BOOL", "1")
	t.Setenv("REINDEXER_T_DURATION", "250ms")
	t.Setenv("REINDEXER_T_FLOAT", "0.25")
	t.Setenv("REINDEXER_T_LIST", "a, b,,c ")

	assert.Equal(t, 12, getEnvInt("REINDEXER_T_INT", 1))
	assert.Equal(t, 1, getEnvInt("REINDEXER_T_BAD_INT", 1))
	assert.True(t, getEnvBool("REINDEXER_T_BOOL", false))
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("REINDEXER_T_DURATION", time.Second))
	assert.Equal(t, 0.25, getEnvFloat("REINDEXER_T_FLOAT", 1))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("REINDEXER_T_LIST"))
	assert.Nil(t, getEnvList("REINDEXER_T_UNSET_LIST"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REINDEXER_DATABASE_URL", "postgres://localhost/reindexer?sslmode=disable")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, IndexBackendPostgres, cfg.Index.Backend)
	assert.Equal(t, 1000, cfg.Index.BatchSize)
	assert.Equal(t, 4, cfg.Queue.Consumers)
	assert.Equal(t, "reindexer", cfg.Queue.Prefix)
	assert.NotEmpty(t, cfg.Queue.Instance)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("REINDEXER_DATABASE_URL", "postgres://db/reindexer")
	t.Setenv("REINDEXER_DATABASE_REPLICA_URLS", "postgres://r1/reindexer,postgres://r2/reindexer")
	t.Setenv("REINDEXER_INDEX_BACKEND", "BLEVE")
	t.Setenv("REINDEXER_BLEVE_PATH", "/var/lib/reindexer/index.bleve")
	t.Setenv("REINDEXER_QUEUE_CONSUMERS", "8")
	t.Setenv("REINDEXER_QUEUE_INSTANCE", "indexer-0")
	t.Setenv("REINDEXER_LOG_LEVEL", "debug")
	t.Setenv("REINDEXER_REINDEX_SCHEDULE", "0 3 * * *")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Len(t, cfg.Database.ReplicaURLs, 2)
	assert.Equal(t, IndexBackendBleve, cfg.Index.Backend)
	assert.Equal(t, 8, cfg.Queue.Consumers)
	assert.Equal(t, "indexer-0", cfg.Queue.Instance)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "0 3 * * *", cfg.Index.ReindexSchedule)
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{URL: "postgres://db", MaxConns: 10, MinConns: 2},
		Redis:    RedisConfig{URL: "redis://localhost:6379"},
		Queue:    QueueConfig{Prefix: "reindexer", Consumers: 1, PollTimeout: time.Second},
		Index:    IndexConfig{Backend: IndexBackendPostgres, BatchSize: 100, MappingFile: "entities.yaml"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port"},
		{name: "missing database", mutate: func(c *Config) { c.Database.URL = "" }, wantErr: "database URL"},
		{name: "min over max", mutate: func(c *Config) { c.Database.MinConns = 50 }, wantErr: "min conns"},
		{name: "missing redis", mutate: func(c *Config) { c.Redis.URL = "" }, wantErr: "redis URL"},
		{name: "no consumers", mutate: func(c *Config) { c.Queue.Consumers = 0 }, wantErr: "consumers"},
		{name: "unknown backend", mutate: func(c *Config) { c.Index.Backend = "solr" }, wantErr: "invalid index backend"},
		{name: "bleve without path", mutate: func(c *Config) { c.Index.Backend = IndexBackendBleve }, wantErr: "bleve path"},
		{name: "zero batch", mutate: func(c *Config) { c.Index.BatchSize = 0 }, wantErr: "batch size"},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "svc"
		}, wantErr: "OpenTelemetry endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
