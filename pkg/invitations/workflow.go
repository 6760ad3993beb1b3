package invitations

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// Authorizer is the part of the decision engine the workflow needs
type Authorizer interface {
	HasPermission(ctx context.Context, userID string, userType rbac.UserType, resource rbac.Resource, action rbac.Action, category rbac.Category) (bool, error)
	CanAccess(ctx context.Context, userID string, userType rbac.UserType, resourceID string, resourceType rbac.Resource) bool
	CheckMultipleRoles(ctx context.Context, userID string, userType rbac.UserType, roles ...rbac.Role) (bool, error)
}

// Workflow moves applications through approval. Every transition is
// authorized by the engine first.
type Workflow struct {
	repo    Repository
	az      Authorizer
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// WorkflowOption configures a Workflow
type WorkflowOption func(*Workflow)

// WithLogger sets the logger
func WithLogger(l *observability.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) WorkflowOption {
	return func(w *Workflow) { w.metrics = m }
}

// WithClock overrides the decision timestamp source
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow creates a workflow
func NewWorkflow(repo Repository, az Authorizer, opts ...WorkflowOption) *Workflow {
	w := &Workflow{repo: repo, az: az, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = observability.Default()
	}
	return w
}

// Approve approves a pending application on behalf of actor
func (w *Workflow) Approve(ctx context.Context, actor Inviter, applicationID string) (*Application, error) {
	return w.decide(ctx, actor, applicationID, StatusApproved)
}

// Reject rejects a pending application on behalf of actor
func (w *Workflow) Reject(ctx context.Context, actor Inviter, applicationID string) (*Application, error) {
	return w.decide(ctx, actor, applicationID, StatusRejected)
}

func (w *Workflow) decide(ctx context.Context, actor Inviter, applicationID string, status Status) (*Application, error) {
	app, err := w.repo.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	inv, err := w.repo.GetInvitation(ctx, app.InvitationID)
	if err != nil {
		return nil, err
	}

	allowed, err := w.az.HasPermission(ctx, actor.UserID, actor.UserType, rbac.ResourceApplication, rbac.ActionUpdate, rbac.CategoryTenantManagement)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: application UPDATE", ErrForbidden)
	}
	if !w.canReach(ctx, actor, inv) {
		return nil, fmt.Errorf("%w: invitation %s is outside the actor's scope", ErrForbidden, inv.ID)
	}

	inviter, conflict, err := ResolveInviter(inv)
	if conflict != nil {
		w.flag(conflict)
		return nil, conflict
	}
	if err != nil {
		return nil, err
	}
	if inviter != actor {
		admin, err := w.az.CheckMultipleRoles(ctx, actor.UserID, actor.UserType, rbac.RoleSuperAdmin)
		if err != nil {
			return nil, err
		}
		if !admin {
			return nil, fmt.Errorf("%w: only the inviter may decide on invitation %s", ErrForbidden, inv.ID)
		}
	}

	at := w.now().UTC()
	if err := w.repo.DecideApplication(ctx, app.ID, status, actor.UserID, at); err != nil {
		return nil, err
	}
	app.Status, app.DecidedBy, app.DecidedAt = status, actor.UserID, &at

	w.logger.WithFields(map[string]interface{}{
		"application_id": app.ID,
		"invitation_id":  inv.ID,
		"status":         string(status),
		"actor_id":       actor.UserID,
	}).Info("application decided")
	return app, nil
}

// canReach checks the invitation's property, or its landlord when it names
// no property
func (w *Workflow) canReach(ctx context.Context, actor Inviter, inv *Invitation) bool {
	switch {
	case inv.PropertyID != "":
		return w.az.CanAccess(ctx, actor.UserID, actor.UserType, inv.PropertyID, rbac.ResourceProperty)
	case inv.LandlordID != "":
		return w.az.CanAccess(ctx, actor.UserID, actor.UserType, inv.LandlordID, rbac.ResourceLandlord)
	default:
		return false
	}
}

// ListApplications returns the applications to invitations actor sent.
// Invitations with conflicting inviter fields are left out and flagged.
func (w *Workflow) ListApplications(ctx context.Context, actor Inviter) ([]*Application, error) {
	allowed, err := w.az.HasPermission(ctx, actor.UserID, actor.UserType, rbac.ResourceApplication, rbac.ActionRead, rbac.CategoryTenantManagement)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: application READ", ErrForbidden)
	}

	invs, err := w.repo.InvitationsByInviter(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(invs))
	for _, inv := range invs {
		inviter, conflict, err := ResolveInviter(inv)
		if conflict != nil {
			w.flag(conflict)
			continue
		}
		if err != nil || inviter != actor {
			continue
		}
		ids = append(ids, inv.ID)
	}
	if len(ids) == 0 {
		return []*Application{}, nil
	}
	return w.repo.ApplicationsForInvitations(ctx, ids)
}

func (w *Workflow) flag(c *Conflict) {
	w.metrics.ObserveInviterConflict()
	w.logger.WithFields(map[string]interface{}{
		"invitation_id": c.InvitationID,
		"detail":        c.Detail,
	}).Warn("invitation inviter fields disagree")
}
