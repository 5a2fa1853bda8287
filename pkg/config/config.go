package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/reindexer/pkg/observability"
)

// Index backends
const (
	IndexBackendPostgres = "postgres"
	IndexBackendBleve    = "bleve"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Queue         QueueConfig
	Index         IndexConfig
	Observability ObservabilityConfig
}

// ServerConfig holds the HTTP API and probe server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// QueueConfig holds message consumption settings
type QueueConfig struct {
	// Prefix namespaces the Redis keys of the queue
	Prefix string
	// Instance names this process's processing list; keep it stable across restarts
	Instance    string
	Consumers   int
	PollTimeout time.Duration
	// LockTTL bounds how long a job lock survives a crashed consumer
	LockTTL time.Duration
}

// IndexConfig holds indexing settings
type IndexConfig struct {
	Backend   string
	BlevePath string
	// BatchSize is the number of entities per range message
	BatchSize int
	// MappingFile is the YAML file describing indexable entity classes
	MappingFile     string
	WatchMappings   bool
	ReindexSchedule string
	// JobCacheSize bounds the cache of finished job results
	JobCacheSize int
	JobCacheTTL  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Queue:         loadQueueConfig(),
		Index:         loadIndexConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("REINDEXER_HOST", "0.0.0.0"),
		Port:            getEnv("REINDEXER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("REINDEXER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("REINDEXER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("REINDEXER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("REINDEXER_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("REINDEXER_DATABASE_URL", ""),
		ReplicaURLs: getEnvList("REINDEXER_DATABASE_REPLICA_URLS"),
		MaxConns:    getEnvInt("REINDEXER_DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt("REINDEXER_DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("REINDEXER_DATABASE_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("REINDEXER_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("REINDEXER_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("REINDEXER_REDIS_URL", "redis://localhost:6379/0"),
		Password:   getEnv("REINDEXER_REDIS_PASSWORD", ""),
		DB:         getEnvInt("REINDEXER_REDIS_DB", -1),
		MaxRetries: getEnvInt("REINDEXER_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("REINDEXER_REDIS_POOL_SIZE", 0),
	}
}

func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "default"
	}
	return host
}

func loadQueueConfig() QueueConfig {
	return QueueConfig{
		Prefix:      getEnv("REINDEXER_QUEUE_PREFIX", "reindexer"),
		Instance:    getEnv("REINDEXER_QUEUE_INSTANCE", defaultInstance()),
		Consumers:   getEnvInt("REINDEXER_QUEUE_CONSUMERS", 4),
		PollTimeout: getEnvDuration("REINDEXER_QUEUE_POLL_TIMEOUT", 5*time.Second),
		LockTTL:     getEnvDuration("REINDEXER_JOB_LOCK_TTL", 10*time.Minute),
	}
}

func loadIndexConfig() IndexConfig {
	return IndexConfig{
		Backend:         strings.ToLower(getEnv("REINDEXER_INDEX_BACKEND", IndexBackendPostgres)),
		BlevePath:       getEnv("REINDEXER_BLEVE_PATH", ""),
		BatchSize:       getEnvInt("REINDEXER_BATCH_SIZE", 1000),
		MappingFile:     getEnv("REINDEXER_MAPPING_FILE", "entities.yaml"),
		WatchMappings:   getEnvBool("REINDEXER_WATCH_MAPPINGS", true),
		ReindexSchedule: getEnv("REINDEXER_REINDEX_SCHEDULE", ""),
		JobCacheSize:    getEnvInt("REINDEXER_JOB_CACHE_SIZE", 10000),
		JobCacheTTL:     getEnvDuration("REINDEXER_JOB_CACHE_TTL", time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("REINDEXER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("REINDEXER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("REINDEXER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("REINDEXER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("REINDEXER_OTEL_SERVICE_NAME", "search-indexer"),
		OTelServiceVersion: getEnv("REINDEXER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("REINDEXER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("REINDEXER_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Queue.Prefix == "" {
		return fmt.Errorf("queue prefix is required")
	}
	if c.Queue.Consumers <= 0 {
		return fmt.Errorf("queue consumers must be positive, got %d", c.Queue.Consumers)
	}
	if c.Queue.PollTimeout <= 0 {
		return fmt.Errorf("queue poll timeout must be positive")
	}

	switch c.Index.Backend {
	case IndexBackendPostgres:
	case IndexBackendBleve:
		if c.Index.BlevePath == "" {
			return fmt.Errorf("bleve path is required for the bleve index backend")
		}
	default:
		return fmt.Errorf("invalid index backend: %s (must be postgres or bleve)", c.Index.Backend)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Index.BatchSize)
	}
	if c.Index.MappingFile == "" {
		return fmt.Errorf("entity mapping file is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Address returns the listen address of the HTTP server
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable as a slice
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
