package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/invitations"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
	"github.com/platinummonkey/tenantguard/pkg/storage"
	"github.com/platinummonkey/tenantguard/pkg/storage/memory"
	"github.com/platinummonkey/tenantguard/pkg/storage/sqlstore"
)

// app is the wired engine with everything it depends on
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	prom    *prometheus.Registry
	metrics *observability.Metrics

	registry *rbac.Registry
	store    storage.Store
	sql      *sqlstore.Store // nil for the memory driver
	invites  invitations.Repository

	resolver scope.Resolver
	cache    *scope.CachingResolver
	redis    *redis.Client
	bus      *scope.RedisBus

	auditLog   audit.Logger
	auditStore audit.Store
	async      *audit.AsyncLogger
	dbAudit    *audit.DBLogger

	engine *authz.Engine
}

type notifierSetter interface {
	SetNotifier(n scope.Notifier)
}

// loadRegistry builds the registry from path, or from the built-in table
// when path is empty
func loadRegistry(path string) (*rbac.Registry, error) {
	table := rbac.DefaultRoleTable()
	if path != "" {
		loaded, err := rbac.LoadRoleTable(path)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	return rbac.NewRegistry(rbac.DefaultCatalog(), table)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, prom: prometheus.NewRegistry()}
	a.metrics = observability.NewMetrics(a.prom)

	registry, err := loadRegistry(cfg.RoleTablePath)
	if err != nil {
		return nil, err
	}
	a.registry = registry

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.wireScope(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireAudit(); err != nil {
		a.Close()
		return nil, err
	}

	opts := []authz.Option{
		authz.WithLocator(a.store),
		authz.WithLogger(logger),
		authz.WithMetrics(a.metrics),
		authz.WithAuditLogger(a.auditLog),
	}
	if len(cfg.Audit.Operations) > 0 {
		opts = append(opts, authz.WithAuditedOperations(cfg.Audit.AuditedOperations()...))
	}
	a.engine = authz.NewEngine(a.registry, a.store, a.resolver, opts...)

	logger.WithFields(map[string]interface{}{
		"driver":       cfg.Storage.Driver,
		"scope_cache":  a.cache != nil,
		"redis":        a.redis != nil,
		"audit_sinks":  strings.Join(cfg.Audit.Sinks, ","),
		"audit_async":  a.async != nil,
		"custom_roles": cfg.RoleTablePath != "",
	}).Info("engine ready")
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Storage.Driver == "memory" {
		a.store = memory.New()
		a.invites = memory.NewInvitations()
		return nil
	}

	s, err := sqlstore.Open(ctx, a.cfg.Storage, sqlstore.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", a.cfg.Storage.Driver, err)
	}
	a.store, a.sql, a.invites = s, s, s
	return nil
}

// wireScope puts the cache in front of the resolver and routes store
// change events to it, through redis when configured
func (a *app) wireScope() error {
	sc := a.cfg.Scope
	a.resolver = scope.NewResolver(a.store, scope.WithMetrics(a.metrics))
	if !sc.CacheEnabled {
		return nil
	}
	a.cache = scope.NewCachingResolver(a.resolver, sc.CacheSize, sc.CacheTTL, a.metrics)
	a.resolver = a.cache

	var notifier scope.Notifier = scope.LocalNotifier{Target: a.cache}
	if sc.RedisURL != "" {
		opts, err := redis.ParseURL(sc.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		if sc.RedisPassword != "" {
			opts.Password = sc.RedisPassword
		}
		if sc.RedisDB != 0 {
			opts.DB = sc.RedisDB
		}
		a.redis = redis.NewClient(opts)
		a.bus = scope.NewRedisBus(a.redis, sc.RedisChannel, a.cache, a.logger)
		notifier = a.bus
	}

	if setter, ok := a.store.(notifierSetter); ok {
		setter.SetNotifier(notifier)
	}
	return nil
}

func (a *app) wireAudit() error {
	ac := a.cfg.Audit

	var (
		sinks  []audit.Logger
		memLog *audit.MemoryLogger
	)
	for _, name := range ac.Sinks {
		switch name {
		case config.SinkDB:
			if a.sql == nil {
				return errors.New("audit sink db requires a database storage driver")
			}
			l, err := audit.NewDBLogger(a.sql.DB())
			if err != nil {
				return err
			}
			a.dbAudit = l
			sinks = append(sinks, l)
		case config.SinkFile:
			l, err := audit.NewFileLogger(ac.File, a.logger)
			if err != nil {
				return err
			}
			sinks = append(sinks, l)
		case config.SinkMemory:
			memLog = audit.NewMemoryLogger()
			sinks = append(sinks, memLog)
		}
	}

	switch {
	case a.dbAudit != nil:
		a.auditStore = a.dbAudit
	case memLog != nil:
		a.auditStore = memLog
	}

	switch len(sinks) {
	case 0:
		a.auditLog = audit.NewNoopLogger()
		return nil
	case 1:
		a.auditLog = sinks[0]
	default:
		a.auditLog = audit.NewMultiLogger(sinks...)
	}

	if ac.Async {
		asyncCfg := audit.DefaultAsyncConfig()
		asyncCfg.Shards = ac.Shards
		asyncCfg.QueueSize = ac.QueueSize
		asyncCfg.SinkName = strings.Join(ac.Sinks, "+")
		a.async = audit.NewAsyncLogger(a.auditLog, asyncCfg, a.logger, a.metrics)
		a.auditLog = a.async
	}
	return nil
}

// subscribe applies invalidations published by other instances. It is a
// no-op without redis.
func (a *app) subscribe(ctx context.Context) (func(), error) {
	if a.bus == nil {
		return func() {}, nil
	}
	return a.bus.Subscribe(ctx, func(ev scope.ChangeEvent) {
		a.cache.Invalidate(ev)
	})
}

// Close flushes the audit trail and releases connections
func (a *app) Close() error {
	var errs []error
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
