package authz

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
)

var tracer = otel.Tracer("github.com/platinummonkey/tenantguard/pkg/authz")

// AssignmentSource reads role assignments
type AssignmentSource interface {
	// ActiveAssignment returns the active assignment of the user, or nil
	// when there is none
	ActiveAssignment(ctx context.Context, userID string, userType rbac.UserType) (*rbac.UserRoleAssignment, error)
}

// Authorizer is the public decision surface
type Authorizer interface {
	HasPermission(ctx context.Context, userID string, userType rbac.UserType, resource rbac.Resource, action rbac.Action, category rbac.Category) (bool, error)
	CanAccess(ctx context.Context, userID string, userType rbac.UserType, resourceID string, resourceType rbac.Resource) bool
	GetUserScopes(ctx context.Context, userID string, userType rbac.UserType) (*scope.ScopeContext, error)
	CheckMultipleRoles(ctx context.Context, userID string, userType rbac.UserType, roles ...rbac.Role) (bool, error)
}

var _ Authorizer = (*Engine)(nil)

// Check is a single permission question
type Check struct {
	UserID   string
	UserType rbac.UserType
	Category rbac.Category
	Resource rbac.Resource
	Action   rbac.Action

	// ResourceID optionally names the concrete target. When set the target
	// must fall inside the user's scope.
	ResourceID string
	// Scope is an already resolved scope for the user. It is ignored and
	// resolved again unless it was resolved for the user's active
	// assignment and has not expired.
	Scope *scope.ScopeContext
}

func (c Check) permission() rbac.Permission {
	return rbac.Permission{Category: c.Category, Resource: c.Resource, Action: c.Action}
}

// Decision is the result of a check
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	Role      rbac.Role `json:"-"`
	CheckedAt time.Time `json:"checked_at"`
}

// Engine evaluates permission and access checks against the role registry
// and live scope data. It holds no per-request state.
type Engine struct {
	registry    *rbac.Registry
	assignments AssignmentSource
	resolver    scope.Resolver
	locator     scope.Locator
	auditLog    audit.Logger
	audited     map[audit.Operation]bool
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLocator sets the locator used to place units, leases, work orders and
// tenants. Without one those targets are denied.
func WithLocator(l scope.Locator) Option {
	return func(e *Engine) { e.locator = l }
}

// WithAuditLogger sets where decisions are recorded
func WithAuditLogger(l audit.Logger) Option {
	return func(e *Engine) { e.auditLog = l }
}

// WithAuditedOperations limits auditing to ops. All operations are audited
// by default.
func WithAuditedOperations(ops ...audit.Operation) Option {
	return func(e *Engine) {
		e.audited = make(map[audit.Operation]bool, len(ops))
		for _, op := range ops {
			e.audited[op] = true
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the decision timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. registry, assignments and resolver are
// required.
func NewEngine(registry *rbac.Registry, assignments AssignmentSource, resolver scope.Resolver, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		assignments: assignments,
		resolver:    resolver,
		auditLog:    audit.NewNoopLogger(),
		audited: map[audit.Operation]bool{
			audit.OperationHasPermission:      true,
			audit.OperationCanAccess:          true,
			audit.OperationCheckMultipleRoles: true,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.Default()
	}
	return e
}

// Registry returns the role registry
func (e *Engine) Registry() *rbac.Registry {
	return e.registry
}

// HasPermission reports whether the user's active role grants the
// permission. A malformed triple or user type returns a
// *rbac.ValidationError; a storage failure a *LookupError.
func (e *Engine) HasPermission(ctx context.Context, userID string, userType rbac.UserType, resource rbac.Resource, action rbac.Action, category rbac.Category) (bool, error) {
	d, err := e.evaluate(ctx, audit.OperationHasPermission, Check{
		UserID:   userID,
		UserType: userType,
		Category: category,
		Resource: resource,
		Action:   action,
	})
	return d.Allowed, err
}

// Evaluate answers c and explains the decision
func (e *Engine) Evaluate(ctx context.Context, c Check) (Decision, error) {
	return e.evaluate(ctx, audit.OperationHasPermission, c)
}

// CanAccess reports whether the user may read the concrete resource. It
// requires READ on the resource type and scope membership. Every failure
// is a deny.
func (e *Engine) CanAccess(ctx context.Context, userID string, userType rbac.UserType, resourceID string, resourceType rbac.Resource) bool {
	logger := e.log(ctx).WithFields(map[string]interface{}{
		"subject_id":    userID,
		"subject_type":  string(userType),
		"resource_type": string(resourceType),
		"resource_id":   resourceID,
	})

	c := Check{
		UserID:     userID,
		UserType:   userType,
		Resource:   resourceType,
		Action:     rbac.ActionRead,
		ResourceID: resourceID,
	}
	if category, ok := e.registry.Catalog().CategoryOf(resourceType); ok {
		c.Category = category
	}

	d, err := e.evaluate(ctx, audit.OperationCanAccess, c)
	if err != nil {
		logger.WithError(err).Warn("access check failed closed")
		return false
	}
	return d.Allowed
}

// GetUserScopes resolves the scope of the user's active assignment. A user
// without one gets an empty scope.
func (e *Engine) GetUserScopes(ctx context.Context, userID string, userType rbac.UserType) (*scope.ScopeContext, error) {
	if err := validateSubject(userID, userType); err != nil {
		return nil, err
	}
	a, err := e.assignments.ActiveAssignment(ctx, userID, userType)
	if err != nil {
		e.metrics.ObserveLookupFailure("get_user_scopes", "assignment")
		return nil, &LookupError{UserID: userID, UserType: userType, Stage: "assignment", Err: err}
	}
	if !admitted(a, userType) {
		return scope.Empty(rbac.RoleUnknown, userID), nil
	}
	sc, err := e.resolver.Resolve(ctx, a)
	if err != nil {
		e.metrics.ObserveLookupFailure("get_user_scopes", "scope")
		return nil, err
	}
	return sc, nil
}

// CheckMultipleRoles reports whether the user's active role is one of roles
func (e *Engine) CheckMultipleRoles(ctx context.Context, userID string, userType rbac.UserType, roles ...rbac.Role) (bool, error) {
	const op = audit.OperationCheckMultipleRoles
	entry := e.newEntry(ctx, op, Check{UserID: userID, UserType: userType})
	d := Decision{CheckedAt: e.now()}

	err := func() error {
		if err := validateSubject(userID, userType); err != nil {
			return err
		}
		if len(roles) == 0 {
			return &rbac.ValidationError{Field: "roles", Reason: "at least one role is required"}
		}
		for _, r := range roles {
			if !r.Valid() {
				return &rbac.ValidationError{Field: "roles", Value: r.String(), Reason: "unknown role"}
			}
		}

		a, err := e.assignments.ActiveAssignment(ctx, userID, userType)
		if err != nil {
			e.metrics.ObserveLookupFailure(string(op), "assignment")
			d.Reason = audit.ReasonLookupFailed
			return &LookupError{UserID: userID, UserType: userType, Stage: "assignment", Err: err}
		}
		if !admitted(a, userType) {
			d.Reason = audit.ReasonNoAssignment
			return nil
		}
		d.Role = a.Role
		for _, r := range roles {
			if r == a.Role {
				d.Allowed, d.Reason = true, audit.ReasonGranted
				return nil
			}
		}
		d.Reason = audit.ReasonRoleNotInSet
		return nil
	}()
	if err != nil && rbac.IsValidationError(err) {
		d.Reason = audit.ReasonValidationFailed
		e.observeValidation(string(op), err)
	}

	e.finish(ctx, op, entry, d, err)
	return d.Allowed, err
}

// evaluate runs one check, records it and reports metrics
func (e *Engine) evaluate(ctx context.Context, op audit.Operation, c Check) (Decision, error) {
	ctx, span := tracer.Start(ctx, "authz."+string(op))
	span.SetAttributes(
		attribute.String("tenantguard.user_type", string(c.UserType)),
		attribute.String("tenantguard.permission", c.permission().String()),
	)
	defer span.End()

	entry := e.newEntry(ctx, op, c)
	d, err := e.decide(ctx, op, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check failed")
	}
	span.SetAttributes(attribute.Bool("tenantguard.allowed", d.Allowed))

	e.finish(ctx, op, entry, d, err)
	return d, err
}

func (e *Engine) decide(ctx context.Context, op audit.Operation, c Check) (Decision, error) {
	d := Decision{CheckedAt: e.now()}

	if err := e.validate(op, c); err != nil {
		d.Reason = audit.ReasonValidationFailed
		e.observeValidation(string(op), err)
		return d, err
	}

	a, err := e.assignments.ActiveAssignment(ctx, c.UserID, c.UserType)
	if err != nil {
		d.Reason = audit.ReasonLookupFailed
		e.metrics.ObserveLookupFailure(string(op), "assignment")
		return d, &LookupError{UserID: c.UserID, UserType: c.UserType, Stage: "assignment", Err: err}
	}
	if !a.Effective() {
		d.Reason = audit.ReasonNoAssignment
		return d, nil
	}
	d.Role = a.Role
	if !admitted(a, c.UserType) {
		d.Reason = audit.ReasonRoleNotAdmitted
		return d, nil
	}

	if !e.registry.Allows(a.Role, c.permission()) {
		d.Reason = audit.ReasonRoleLacksGrant
		return d, nil
	}

	if c.ResourceID != "" && scope.Scopable(c.Resource) {
		in, err := e.inScope(ctx, op, a, c)
		if err != nil {
			d.Reason = audit.ReasonLookupFailed
			return d, err
		}
		if !in {
			d.Reason = audit.ReasonOutOfScope
			return d, nil
		}
	}

	d.Allowed = true
	d.Reason = audit.ReasonGranted
	return d, nil
}

func (e *Engine) validate(op audit.Operation, c Check) error {
	if err := validateSubject(c.UserID, c.UserType); err != nil {
		return err
	}
	if op == audit.OperationCanAccess {
		if !scope.Scopable(c.Resource) {
			return &rbac.ValidationError{Field: "resource_type", Value: string(c.Resource), Reason: "not an access checked resource type"}
		}
		if c.ResourceID == "" {
			return &rbac.ValidationError{Field: "resource_id", Reason: "must not be empty"}
		}
	}
	return e.registry.Catalog().Validate(c.permission())
}

func validateSubject(userID string, userType rbac.UserType) error {
	if userID == "" {
		return &rbac.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if !userType.Valid() {
		return &rbac.ValidationError{Field: "user_type", Value: string(userType), Reason: "unknown user type"}
	}
	return nil
}

// admitted reports whether a is an effective assignment of a role the user
// type may hold
func admitted(a *rbac.UserRoleAssignment, userType rbac.UserType) bool {
	return a.Effective() && a.UserType == userType && userType.AdmitsRole(a.Role)
}

// inScope tests the concrete target of c against the user's scope. A
// supplied scope is used only when it was resolved for a itself.
func (e *Engine) inScope(ctx context.Context, op audit.Operation, a *rbac.UserRoleAssignment, c Check) (bool, error) {
	sc := c.Scope
	if !sc.ResolvedFor(a) || sc.ExpiredAt(e.now()) {
		var err error
		sc, err = e.resolver.Resolve(ctx, a)
		if err != nil {
			e.metrics.ObserveLookupFailure(string(op), "scope")
			return false, err
		}
	}
	if sc.CanViewAll() {
		return true, nil
	}

	var loc scope.Location
	if scope.NeedsLocation(c.Resource) {
		if e.locator == nil {
			return false, nil
		}
		var err error
		loc, err = e.locator.Locate(ctx, c.Resource, c.ResourceID)
		if errors.Is(err, scope.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			e.metrics.ObserveLookupFailure(string(op), "location")
			return false, &LookupError{UserID: c.UserID, UserType: c.UserType, Stage: "location", Err: err}
		}
	}

	return sc.Contains(c.Resource, c.ResourceID, loc), nil
}

func (e *Engine) newEntry(ctx context.Context, op audit.Operation, c Check) *audit.Entry {
	return &audit.Entry{
		ActorID:      c.UserID,
		ActorType:    string(c.UserType),
		Operation:    op,
		Category:     string(c.Category),
		ResourceType: string(c.Resource),
		ResourceID:   c.ResourceID,
		Action:       string(c.Action),
		RequestID:    contextkeys.GetRequestID(ctx),
	}
}

// finish records the decision in the audit trail and the metrics
func (e *Engine) finish(ctx context.Context, op audit.Operation, entry *audit.Entry, d Decision, err error) {
	role := d.Role.String()
	label := role
	if !d.Role.Valid() {
		label = "none"
	}
	e.metrics.ObserveDecision(string(op), label, d.Allowed)

	if !e.audited[op] {
		return
	}
	entry.Role = role
	entry.Timestamp = d.CheckedAt.UTC()
	entry.Outcome = audit.OutcomeDenied
	if d.Allowed {
		entry.Outcome = audit.OutcomeAllowed
	}
	entry.Reason = d.Reason
	if err != nil {
		entry.ErrorDetail = err.Error()
	}

	if recErr := e.auditLog.Record(ctx, entry); recErr != nil {
		e.log(ctx).WithError(recErr).WithField("operation", string(op)).Error("failed to record audit entry")
	}
}

func (e *Engine) log(ctx context.Context) *observability.Logger {
	logger := e.logger
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	return observability.WithTraceContext(ctx, logger)
}

func (e *Engine) observeValidation(op string, err error) {
	var ve *rbac.ValidationError
	if errors.As(err, &ve) {
		e.metrics.ObserveValidationError(op, ve.Field)
	}
}
