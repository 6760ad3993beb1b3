package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/scope"
	"github.com/platinummonkey/tenantguard/pkg/storage"
)

// Audit sink names accepted in TENANTGUARD_AUDIT_SINKS
const (
	SinkDB     = "db"
	SinkFile   = "file"
	SinkMemory = "memory"
	SinkNone   = "none"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// RoleTablePath is an optional YAML role table replacing the built-in one
	RoleTablePath string

	Audit AuditConfig

	Scope ScopeConfig

	Invitations InvitationsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuditConfig selects audit sinks and tunes the async pipeline
type AuditConfig struct {
	Sinks []string
	// Async wraps the sinks in an audit.AsyncLogger
	Async        bool
	Shards       int
	QueueSize    int
	DrainTimeout time.Duration
	File         audit.FileLoggerConfig
	// Operations restricts auditing to these operation names, empty means all
	Operations []string
	Retention  time.Duration
}

// ScopeConfig tunes scope resolution caching
type ScopeConfig struct {
	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration

	// RedisURL enables cross-instance invalidation when set
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
}

// InvitationsConfig configures the inviter reconciler
type InvitationsConfig struct {
	ReconcileEnabled  bool
	ReconcileSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel converts the settings for observability.InitTracing
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		RoleTablePath: getEnv("TENANTGUARD_ROLE_TABLE", ""),
		Audit:         loadAuditConfig(),
		Scope:         loadScopeConfig(),
		Invitations:   loadInvitationsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGUARD_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGUARD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGUARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGUARD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGUARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGUARD_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTGUARD_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if driver := getEnv("TENANTGUARD_STORAGE_DRIVER", ""); driver != "" {
		cfg.Driver = strings.ToLower(driver)
	}
	if dsn := getEnv("TENANTGUARD_DATABASE_URL", ""); dsn != "" {
		cfg.DSN = dsn
	}
	if replicas := getEnvList("TENANTGUARD_DATABASE_REPLICA_URLS"); len(replicas) > 0 {
		cfg.ReplicaDSNs = replicas
	}
	if maxConns := getEnvInt("TENANTGUARD_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("TENANTGUARD_DATABASE_MIN_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if lifetime := getEnvDuration("TENANTGUARD_DATABASE_CONN_LIFETIME", 0); lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}
	if timeout := getEnvDuration("TENANTGUARD_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.Migrate = getEnvBool("TENANTGUARD_DATABASE_MIGRATE", cfg.Migrate)

	return cfg
}

func loadAuditConfig() AuditConfig {
	async := audit.DefaultAsyncConfig()
	file := audit.DefaultFileLoggerConfig()
	if path := getEnv("TENANTGUARD_AUDIT_FILE_PATH", ""); path != "" {
		file.BasePath = path
	}
	file.Rotate = getEnvBool("TENANTGUARD_AUDIT_FILE_ROTATE", file.Rotate)
	if maxSize := getEnvInt64("TENANTGUARD_AUDIT_FILE_MAX_SIZE", 0); maxSize > 0 {
		file.MaxSize = maxSize
	}
	if maxFiles := getEnvInt("TENANTGUARD_AUDIT_FILE_MAX_FILES", 0); maxFiles > 0 {
		file.MaxFiles = maxFiles
	}

	sinks := getEnvList("TENANTGUARD_AUDIT_SINKS")
	if len(sinks) == 0 {
		sinks = []string{SinkMemory}
	}

	return AuditConfig{
		Sinks:        sinks,
		Async:        getEnvBool("TENANTGUARD_AUDIT_ASYNC", true),
		Shards:       getEnvInt("TENANTGUARD_AUDIT_SHARDS", async.Shards),
		QueueSize:    getEnvInt("TENANTGUARD_AUDIT_QUEUE_SIZE", async.QueueSize),
		DrainTimeout: getEnvDuration("TENANTGUARD_AUDIT_DRAIN_TIMEOUT", 2*time.Second),
		File:         file,
		Operations:   getEnvList("TENANTGUARD_AUDIT_OPERATIONS"),
		Retention:    getEnvDuration("TENANTGUARD_AUDIT_RETENTION", 0),
	}
}

func loadScopeConfig() ScopeConfig {
	return ScopeConfig{
		CacheEnabled:  getEnvBool("TENANTGUARD_SCOPE_CACHE_ENABLED", false),
		CacheSize:     getEnvInt("TENANTGUARD_SCOPE_CACHE_SIZE", 10000),
		CacheTTL:      getEnvDuration("TENANTGUARD_SCOPE_CACHE_TTL", 30*time.Second),
		RedisURL:      getEnv("TENANTGUARD_REDIS_URL", ""),
		RedisPassword: getEnv("TENANTGUARD_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("TENANTGUARD_REDIS_DB", 0),
		RedisChannel:  getEnv("TENANTGUARD_REDIS_CHANNEL", scope.DefaultInvalidationChannel),
	}
}

func loadInvitationsConfig() InvitationsConfig {
	return InvitationsConfig{
		ReconcileEnabled:  getEnvBool("TENANTGUARD_RECONCILE_ENABLED", false),
		ReconcileSchedule: getEnv("TENANTGUARD_RECONCILE_SCHEDULE", "0 3 * * *"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TENANTGUARD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTGUARD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTGUARD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTGUARD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTGUARD_OTEL_SERVICE_NAME", "tenantguard"),
		OTelServiceVersion: getEnv("TENANTGUARD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTGUARD_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTGUARD_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite3":
		if c.Storage.DSN == "" {
			return fmt.Errorf("database URL is required for %s storage", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (must be memory, postgres, or sqlite3)", c.Storage.Driver)
	}

	for _, sink := range c.Audit.Sinks {
		switch sink {
		case SinkMemory, SinkNone, SinkFile:
		case SinkDB:
			if c.Storage.Driver == "memory" {
				return fmt.Errorf("audit sink %q requires a database storage driver", sink)
			}
		default:
			return fmt.Errorf("invalid audit sink: %s (must be db, file, memory, or none)", sink)
		}
	}
	if c.Audit.Async && c.Audit.Shards <= 0 {
		return fmt.Errorf("audit shards must be positive")
	}
	if c.Audit.Async && c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit queue size must be positive")
	}
	for _, op := range c.Audit.Operations {
		switch audit.Operation(op) {
		case audit.OperationHasPermission, audit.OperationCanAccess, audit.OperationCheckMultipleRoles:
		default:
			return fmt.Errorf("invalid audit operation: %s", op)
		}
	}

	if c.Scope.CacheEnabled && c.Scope.CacheSize <= 0 {
		return fmt.Errorf("scope cache size must be positive when the cache is enabled")
	}
	if c.Scope.RedisURL != "" && !c.Scope.CacheEnabled {
		return fmt.Errorf("redis invalidation requires the scope cache")
	}

	if c.Invitations.ReconcileEnabled {
		if _, err := cron.ParseStandard(c.Invitations.ReconcileSchedule); err != nil {
			return fmt.Errorf("invalid reconcile schedule %q: %w", c.Invitations.ReconcileSchedule, err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// HasSink reports whether the named audit sink is configured
func (a AuditConfig) HasSink(name string) bool {
	for _, s := range a.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// AuditedOperations converts Operations for authz.WithAuditedOperations
func (a AuditConfig) AuditedOperations() []audit.Operation {
	ops := make([]audit.Operation, 0, len(a.Operations))
	for _, op := range a.Operations {
		ops = append(ops, audit.Operation(op))
	}
	return ops
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

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

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
