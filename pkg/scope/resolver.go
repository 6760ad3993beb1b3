package scope

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

var tracer = otel.Tracer("github.com/platinummonkey/tenantguard/pkg/scope")

// Resolver computes the scope of an assignment
type Resolver interface {
	Resolve(ctx context.Context, assignment *rbac.UserRoleAssignment) (*ScopeContext, error)
}

// DirectoryResolver resolves scopes from live directory data on every call
type DirectoryResolver struct {
	dir     Directory
	now     func() time.Time
	metrics *observability.Metrics
}

// Option configures a DirectoryResolver
type Option func(*DirectoryResolver)

// WithClock overrides the clock used to decide whether a relationship has ended
func WithClock(now func() time.Time) Option {
	return func(r *DirectoryResolver) { r.now = now }
}

// WithMetrics records resolution latency
func WithMetrics(m *observability.Metrics) Option {
	return func(r *DirectoryResolver) { r.metrics = m }
}

// NewResolver creates a resolver over dir
func NewResolver(dir Directory, opts ...Option) *DirectoryResolver {
	r := &DirectoryResolver{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve computes the scope for assignment. Any directory failure is
// returned as a *ResolutionError and no scope.
func (r *DirectoryResolver) Resolve(ctx context.Context, a *rbac.UserRoleAssignment) (sc *ScopeContext, err error) {
	if a == nil {
		return nil, &ResolutionError{Op: "resolve", Err: errors.New("nil assignment")}
	}

	ctx, span := tracer.Start(ctx, "scope.Resolve")
	span.SetAttributes(
		attribute.String("tenantguard.role", a.Role.String()),
		attribute.String("tenantguard.user_type", string(a.UserType)),
	)
	start := time.Now()
	defer func() {
		r.metrics.ObserveScopeResolution(a.Role.String(), time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scope resolution failed")
		}
		span.End()
	}()

	fail := func(op string, cause error) (*ScopeContext, error) {
		return nil, &ResolutionError{Role: a.Role, UserID: a.UserID, Op: op, Err: cause}
	}

	var base *ScopeContext
	switch a.Role {
	case rbac.RoleSuperAdmin:
		if a.Scope.Empty() {
			sc = Unrestricted()
			sc.bind(a)
			return sc, nil
		}
		base, err = r.fromAssignmentScope(ctx, a.Scope)
	case rbac.RolePMCAdmin, rbac.RolePM:
		if a.Scope == nil || a.Scope.PMCID == "" {
			return fail("pmc scope", errors.New("assignment carries no pmc id"))
		}
		base, err = r.forPMC(ctx, a.Role, a.Scope.PMCID)
	case rbac.RoleLandlord:
		base, err = r.forLandlord(ctx, a.UserID)
	case rbac.RoleTenant:
		base, err = r.forTenant(ctx, a.UserID)
	case rbac.RoleVendor:
		base, err = r.forVendor(ctx, a.UserID)
	default:
		return fail("role", errors.New("role has no scope rule"))
	}
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			re.Role, re.UserID = a.Role, a.UserID
			return nil, re
		}
		return fail("directory", err)
	}

	sc = base.Narrow(a.Scope)
	sc.bind(a)
	return sc, nil
}

// Now returns the resolver's clock reading
func (r *DirectoryResolver) Now() time.Time {
	return r.now()
}

func (r *DirectoryResolver) forPMC(ctx context.Context, role rbac.Role, pmcID string) (*ScopeContext, error) {
	rels, err := r.dir.PMCRelationships(ctx, pmcID)
	if err != nil {
		return nil, &ResolutionError{Op: "pmc relationships", Err: err}
	}

	sc := Empty(role, pmcID)
	sc.pmcs[pmcID] = struct{}{}

	now := r.now()
	landlordIDs := make([]string, 0, len(rels))
	for _, rel := range rels {
		if rel.PMCID != pmcID || !rel.ActiveAt(now) {
			continue
		}
		sc.noteEnd(rel.EndedAt)
		if _, seen := sc.landlords[rel.LandlordID]; seen {
			continue
		}
		sc.landlords[rel.LandlordID] = struct{}{}
		landlordIDs = append(landlordIDs, rel.LandlordID)
	}

	if err := r.addLandlordProperties(ctx, sc, landlordIDs); err != nil {
		return nil, err
	}
	return sc, nil
}

func (r *DirectoryResolver) forLandlord(ctx context.Context, landlordID string) (*ScopeContext, error) {
	sc := Empty(rbac.RoleLandlord, landlordID)
	sc.landlords[landlordID] = struct{}{}

	if err := r.addLandlordProperties(ctx, sc, []string{landlordID}); err != nil {
		return nil, err
	}

	rels, err := r.dir.LandlordRelationships(ctx, landlordID)
	if err != nil {
		return nil, &ResolutionError{Op: "landlord relationships", Err: err}
	}
	now := r.now()
	for _, rel := range rels {
		if rel.LandlordID == landlordID && rel.ActiveAt(now) {
			sc.pmcs[rel.PMCID] = struct{}{}
			sc.noteEnd(rel.EndedAt)
		}
	}
	return sc, nil
}

func (r *DirectoryResolver) forTenant(ctx context.Context, tenantID string) (*ScopeContext, error) {
	leases, err := r.dir.LeasesForTenant(ctx, tenantID)
	if err != nil {
		return nil, &ResolutionError{Op: "tenant leases", Err: err}
	}

	sc := Empty(rbac.RoleTenant, tenantID)
	for _, lease := range leases {
		if lease.TenantID != tenantID || !lease.Active() {
			continue
		}
		sc.leases[lease.ID] = lease.PropertyID
		sc.properties[lease.PropertyID] = lease.LandlordID
		if lease.LandlordID != "" {
			sc.landlords[lease.LandlordID] = struct{}{}
		}
		if lease.UnitID != "" {
			sc.units[lease.UnitID] = lease.PropertyID
		}
	}
	return sc, nil
}

func (r *DirectoryResolver) forVendor(ctx context.Context, vendorID string) (*ScopeContext, error) {
	orders, err := r.dir.WorkOrdersForVendor(ctx, vendorID)
	if err != nil {
		return nil, &ResolutionError{Op: "vendor work orders", Err: err}
	}

	sc := Empty(rbac.RoleVendor, vendorID)
	propertyIDs := make([]string, 0, len(orders))
	seen := make(map[string]bool)
	for _, wo := range orders {
		if wo.VendorID != vendorID || !wo.Open() {
			continue
		}
		sc.workOrders[wo.ID] = wo.PropertyID
		if wo.UnitID != "" {
			sc.units[wo.UnitID] = wo.PropertyID
		}
		if !seen[wo.PropertyID] {
			seen[wo.PropertyID] = true
			propertyIDs = append(propertyIDs, wo.PropertyID)
		}
	}

	if len(propertyIDs) > 0 {
		props, err := r.dir.PropertiesByIDs(ctx, propertyIDs)
		if err != nil {
			return nil, &ResolutionError{Op: "work order properties", Err: err}
		}
		for _, p := range props {
			sc.properties[p.ID] = p.LandlordID
		}
		sc.dropOrphans()
	}

	rels, err := r.dir.VendorRelationships(ctx, vendorID)
	if err != nil {
		return nil, &ResolutionError{Op: "vendor relationships", Err: err}
	}
	now := r.now()
	for _, rel := range rels {
		if rel.VendorID == vendorID && rel.ActiveAt(now) {
			sc.pmcs[rel.PMCID] = struct{}{}
			sc.noteEnd(rel.EndedAt)
		}
	}
	return sc, nil
}

// fromAssignmentScope builds the concrete scope of a restricted super admin
func (r *DirectoryResolver) fromAssignmentScope(ctx context.Context, restriction *rbac.AssignmentScope) (*ScopeContext, error) {
	switch {
	case restriction.PMCID != "":
		return r.forPMC(ctx, rbac.RoleSuperAdmin, restriction.PMCID)
	case restriction.LandlordID != "":
		sc := Empty(rbac.RoleSuperAdmin, "")
		sc.landlords[restriction.LandlordID] = struct{}{}
		if err := r.addLandlordProperties(ctx, sc, []string{restriction.LandlordID}); err != nil {
			return nil, err
		}
		return sc, nil
	default:
		props, err := r.dir.PropertiesByIDs(ctx, restriction.PropertyIDs)
		if err != nil {
			return nil, &ResolutionError{Op: "properties", Err: err}
		}
		sc := Empty(rbac.RoleSuperAdmin, "")
		for _, p := range props {
			sc.properties[p.ID] = p.LandlordID
			sc.landlords[p.LandlordID] = struct{}{}
		}
		return sc, nil
	}
}

func (r *DirectoryResolver) addLandlordProperties(ctx context.Context, sc *ScopeContext, landlordIDs []string) error {
	if len(landlordIDs) == 0 {
		return nil
	}
	props, err := r.dir.PropertiesByLandlords(ctx, landlordIDs)
	if err != nil {
		return &ResolutionError{Op: "landlord properties", Err: err}
	}
	for _, p := range props {
		if _, ok := sc.landlords[p.LandlordID]; ok {
			sc.properties[p.ID] = p.LandlordID
		}
	}
	return nil
}
