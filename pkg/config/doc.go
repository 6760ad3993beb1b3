// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANTGUARD_HOST="0.0.0.0"
//	TENANTGUARD_PORT="8080"
//	TENANTGUARD_HEALTH_PORT="9090"
//	TENANTGUARD_READ_TIMEOUT="15s"
//	TENANTGUARD_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	TENANTGUARD_STORAGE_DRIVER="postgres"  # memory, postgres, sqlite3
//	TENANTGUARD_DATABASE_URL="postgres://localhost/tenantguard"
//	TENANTGUARD_DATABASE_REPLICA_URLS="postgres://replica1/tenantguard,postgres://replica2/tenantguard"
//	TENANTGUARD_DATABASE_MAX_CONNS="20"
//	TENANTGUARD_DATABASE_MIGRATE="true"
//
// Roles:
//
//	TENANTGUARD_ROLE_TABLE="/etc/tenantguard/roles.yaml"
//
// Audit settings:
//
//	TENANTGUARD_AUDIT_SINKS="db,file"  # db, file, memory, none
//	TENANTGUARD_AUDIT_ASYNC="true"
//	TENANTGUARD_AUDIT_SHARDS="16"
//	TENANTGUARD_AUDIT_DRAIN_TIMEOUT="2s"
//	TENANTGUARD_AUDIT_FILE_PATH="/var/log/tenantguard/audit"
//	TENANTGUARD_AUDIT_OPERATIONS="has_permission,can_access"
//
// Scope cache settings:
//
//	TENANTGUARD_SCOPE_CACHE_ENABLED="false"
//	TENANTGUARD_SCOPE_CACHE_SIZE="10000"
//	TENANTGUARD_SCOPE_CACHE_TTL="30s"
//	TENANTGUARD_REDIS_URL="redis://localhost:6379"
//
// Invitations:
//
//	TENANTGUARD_RECONCILE_ENABLED="true"
//	TENANTGUARD_RECONCILE_SCHEDULE="0 3 * * *"
//
// Observability settings:
//
//	TENANTGUARD_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTGUARD_METRICS_ENABLED="true"
//	TENANTGUARD_OTEL_ENABLED="true"
//	TENANTGUARD_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Storage: %s\n", cfg.Storage.Driver)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/audit: Uses audit sink and pipeline configuration
//   - pkg/observability: Uses observability configuration
package config
