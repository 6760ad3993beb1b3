package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/invitations"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// maxBodyBytes caps decision request bodies
const maxBodyBytes = 1 << 20

func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization API",
		Long: `Start the decision API on TENANTGUARD_PORT and health, readiness and
metrics endpoints on TENANTGUARD_HEALTH_PORT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, version)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, version string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, logger, err := loadConfig(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if cfg.Observability.OTelServiceVersion == "" {
		cfg.Observability.OTelServiceVersion = version
	}

	tp, err := observability.InitTracing(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	unsubscribe, err := a.subscribe(ctx)
	if err != nil {
		a.Close()
		return err
	}

	if a.sql != nil && len(cfg.Storage.ReplicaDSNs) > 0 {
		a.sql.Connections().StartHealthCheckRoutine(ctx, 0)
	}

	limiter := a.rateLimiter(ctx)
	checker := a.healthChecker(version)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      a.handler(limiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     a.healthHandler(checker),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health server", healthServer.Shutdown)

	if cfg.Invitations.ReconcileEnabled {
		reconciler, err := invitations.NewReconciler(a.invites, cfg.Invitations.ReconcileSchedule, logger, a.metrics)
		if err != nil {
			unsubscribe()
			a.Close()
			return err
		}
		if err := reconciler.Start(); err != nil {
			unsubscribe()
			a.Close()
			return err
		}
		shutdown.RegisterShutdownFunc("invitation reconciler", reconciler.Stop)
	}
	if sched := a.retentionSchedule(); sched != nil {
		sched.Start()
		shutdown.RegisterShutdownFunc("audit retention", func(context.Context) error {
			<-sched.Stop().Done()
			return nil
		})
	}

	shutdown.RegisterShutdownFunc("scope invalidation subscriber", func(context.Context) error {
		unsubscribe()
		return nil
	})
	shutdown.RegisterShutdownFunc("engine", func(context.Context) error {
		return a.Close()
	})
	shutdown.RegisterShutdownFunc("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})

	serve := func(name string, srv *http.Server) {
		defer observability.RecoverPanic(logger, name)
		logger.WithField("addr", srv.Addr).Infof("Starting %s", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Errorf("%s stopped", name)
			cancel()
		}
	}
	go serve("API server", server)
	go serve("health server", healthServer)

	return shutdown.WaitForShutdown(ctx)
}

// rateLimiter shares budgets through redis when it is configured and keeps
// them in process otherwise
func (a *app) rateLimiter(ctx context.Context) *middleware.RateLimitMiddleware {
	if a.redis != nil {
		return middleware.NewDistributedRateLimitMiddleware(a.redis, a.logger)
	}

	actor := middleware.NewRateLimiter(middleware.PerActorRateLimitConfig())
	admin := middleware.NewRateLimiter(middleware.PerAdminRateLimitConfig())
	anonymous := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	for _, l := range []*middleware.RateLimiter{actor, admin, anonymous} {
		l.StartCleanup(ctx, a.logger)
	}
	return middleware.NewRateLimitMiddleware(actor, admin, anonymous, a.logger)
}

// routes registers every API route on one router
func (a *app) routes() *mux.Router {
	router := mux.NewRouter()
	authz.NewHandlers(a.engine, a.logger).RegisterRoutes(router)

	workflow := invitations.NewWorkflow(a.invites, a.engine,
		invitations.WithLogger(a.logger),
		invitations.WithMetrics(a.metrics),
	)
	invitations.NewHandlers(workflow).RegisterRoutes(router)

	if a.auditStore != nil {
		auditRouter := mux.NewRouter()
		audit.NewHandlers(a.auditStore).RegisterRoutes(auditRouter)
		guard := authz.RequirePermission(a.engine, rbac.CategoryAudit, rbac.ResourceAuditLog, rbac.ActionRead, a.logger)
		router.PathPrefix("/audit/").Handler(guard(auditRouter))
	}
	return router
}

// handler wraps the routes in the request pipeline. Identity runs before
// logging so request lines carry the actor.
func (a *app) handler(limiter *middleware.RateLimitMiddleware) http.Handler {
	router := a.routes()

	chain := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(a.logger),
		observability.TracingMiddleware("tenantguard"),
		middleware.RequestID,
		middleware.Identity(true),
		httputil.LoggingMiddleware(a.logger),
	}
	if a.cfg.Observability.MetricsEnabled {
		chain = append(chain, observability.HTTPMetricsMiddleware(a.metrics, routeTemplate(router)))
	}
	chain = append(chain, limiter.Handler)
	if a.async != nil {
		chain = append(chain, audit.DrainMiddleware(a.async, a.cfg.Audit.DrainTimeout, a.logger))
	}
	chain = append(chain,
		httputil.MaxBytesMiddleware(maxBodyBytes),
		httputil.ContentTypeMiddleware,
	)
	return httputil.Chain(chain...)(router)
}

// routeTemplate labels metrics by the matched route instead of the raw
// path so resource ids do not explode label cardinality
func routeTemplate(router *mux.Router) func(*http.Request) string {
	return func(r *http.Request) string {
		var match mux.RouteMatch
		if router.Match(r, &match) && match.Route != nil {
			if tpl, err := match.Route.GetPathTemplate(); err == nil {
				return tpl
			}
		}
		return "unmatched"
	}
}

// healthChecker pings the database and redis when present. The memory
// store gets its own check.
func (a *app) healthChecker(version string) *observability.HealthChecker {
	var checker *observability.HealthChecker
	if a.sql != nil {
		checker = observability.NewHealthChecker(a.sql.DB(), a.redis, version)
	} else {
		checker = observability.NewHealthChecker(nil, a.redis, version)
		checker.AddCheck("storage", true, func(ctx context.Context) observability.DependencyStatus {
			start := time.Now()
			status := observability.DependencyStatus{Status: observability.StatusHealthy, Timestamp: start}
			if err := a.store.HealthCheck(ctx); err != nil {
				status.Status = observability.StatusUnhealthy
				status.Message = err.Error()
			}
			status.Latency = time.Since(start)
			return status
		})
	}
	if a.async != nil {
		checker.AddCheck("audit", false, a.async.HealthCheck)
	}
	return checker
}

func (a *app) healthHandler(checker *observability.HealthChecker) http.Handler {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if a.cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(a.prom)).Methods(http.MethodGet)
	}
	return router
}

// retentionSchedule prunes database audit entries older than the
// configured retention once an hour. It returns nil when there is nothing
// to prune.
func (a *app) retentionSchedule() *cron.Cron {
	retention := a.cfg.Audit.Retention
	if a.dbAudit == nil || retention <= 0 {
		return nil
	}
	c := cron.New()
	c.AddFunc("@hourly", func() {
		defer observability.RecoverPanic(a.logger, "audit retention")
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		removed, err := a.dbAudit.Cleanup(ctx, retention)
		if err != nil {
			a.logger.WithError(err).Error("audit retention cleanup failed")
			return
		}
		a.logger.WithField("removed", removed).Info("audit retention cleanup complete")
	})
	return c
}
