package invitations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// DefaultReconcileSchedule runs the scan at 02:30 every day
const DefaultReconcileSchedule = "30 2 * * *"

const scanPageSize = 500

// ReconcileReport is the result of one scan
type ReconcileReport struct {
	Scanned    int        `json:"scanned"`
	Conflicts  []Conflict `json:"conflicts"`
	NoInviter  []string   `json:"no_inviter"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Reconciler periodically scans every invitation for inviter fields that
// disagree and reports them. It never rewrites rows.
type Reconciler struct {
	repo     Repository
	schedule string
	logger   *observability.Logger
	metrics  *observability.Metrics

	cron *cron.Cron

	mu   sync.Mutex
	last *ReconcileReport
}

// NewReconciler creates a reconciler running on a standard five field
// cron schedule
func NewReconciler(repo Repository, schedule string, logger *observability.Logger, metrics *observability.Metrics) (*Reconciler, error) {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = observability.Default()
	}
	return &Reconciler{
		repo:     repo,
		schedule: schedule,
		logger:   logger,
		metrics:  metrics,
		cron:     cron.New(),
	}, nil
}

// Start schedules the scan
func (r *Reconciler) Start() error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		defer observability.RecoverPanic(r.logger, "invitation reconciler")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.WithError(err).Error("invitation reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}
	r.cron.Start()
	r.logger.WithField("schedule", r.schedule).Info("invitation reconciler started")
	return nil
}

// Stop halts the schedule and waits for a running scan
func (r *Reconciler) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce scans every invitation
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{Conflicts: []Conflict{}, NoInviter: []string{}, StartedAt: time.Now().UTC()}

	after := ""
	for {
		page, err := r.repo.ScanInvitations(ctx, after, scanPageSize)
		if err != nil {
			return report, fmt.Errorf("failed to scan invitations after %q: %w", after, err)
		}
		for _, inv := range page {
			report.Scanned++
			_, conflict, err := ResolveInviter(inv)
			switch {
			case conflict != nil:
				report.Conflicts = append(report.Conflicts, *conflict)
				r.metrics.ObserveInviterConflict()
			case errors.Is(err, ErrNoInviter):
				report.NoInviter = append(report.NoInviter, inv.ID)
			case err != nil:
				var c *Conflict
				if errors.As(err, &c) {
					report.Conflicts = append(report.Conflicts, *c)
					r.metrics.ObserveInviterConflict()
				} else {
					report.NoInviter = append(report.NoInviter, inv.ID)
				}
			}
		}
		if len(page) < scanPageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	report.FinishedAt = time.Now().UTC()
	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()

	r.logger.WithFields(map[string]interface{}{
		"scanned":    report.Scanned,
		"conflicts":  len(report.Conflicts),
		"no_inviter": len(report.NoInviter),
	}).Info("invitation reconciliation finished")
	return report, nil
}

// LastReport returns the most recent report, or nil before the first scan
func (r *Reconciler) LastReport() *ReconcileReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
