package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
	"github.com/platinummonkey/tenantguard/pkg/storage/memory"
)

// Two PMCs with disjoint landlords:
//
//	P1 manages L1 (PR1: U1) and L2 (PR2: U2)
//	P2 manages L9 (PR9)
//
// T1 leases U1 on PR1, T2 leases U2 on PR2. V1 has an open work order WO1
// on U1 and a cancelled one, WO2, on PR2.
type fixture struct {
	store  *memory.Store
	audit  *audit.MemoryLogger
	engine *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, rel := range []scope.Relationship{
		{PMCID: "P1", LandlordID: "L1", Status: scope.RelationshipActive, StartedAt: start},
		{PMCID: "P1", LandlordID: "L2", Status: scope.RelationshipActive, StartedAt: start},
		{PMCID: "P2", LandlordID: "L9", Status: scope.RelationshipActive, StartedAt: start},
	} {
		require.NoError(t, store.PutRelationship(ctx, rel))
	}
	for _, p := range []scope.Property{
		{ID: "PR1", LandlordID: "L1"},
		{ID: "PR2", LandlordID: "L2"},
		{ID: "PR9", LandlordID: "L9"},
	} {
		require.NoError(t, store.PutProperty(ctx, p))
	}
	require.NoError(t, store.PutUnit(ctx, "U1", "PR1"))
	require.NoError(t, store.PutUnit(ctx, "U2", "PR2"))
	require.NoError(t, store.PutLease(ctx, scope.Lease{ID: "LS1", TenantID: "T1", PropertyID: "PR1", UnitID: "U1", LandlordID: "L1", Status: scope.LeaseStatusActive}))
	require.NoError(t, store.PutLease(ctx, scope.Lease{ID: "LS2", TenantID: "T2", PropertyID: "PR2", UnitID: "U2", LandlordID: "L2", Status: scope.LeaseStatusActive}))
	require.NoError(t, store.PutWorkOrder(ctx, scope.WorkOrder{ID: "WO1", VendorID: "V1", PropertyID: "PR1", UnitID: "U1", Status: "open"}))
	require.NoError(t, store.PutWorkOrder(ctx, scope.WorkOrder{ID: "WO2", VendorID: "V1", PropertyID: "PR2", Status: scope.WorkOrderCancelled}))
	require.NoError(t, store.PutVendorRelationship(ctx, scope.VendorRelationship{VendorID: "V1", PMCID: "P1", Status: scope.RelationshipActive}))

	f := &fixture{store: store, audit: audit.NewMemoryLogger()}
	f.assign(t, "A1", rbac.UserTypeAdmin, rbac.RoleSuperAdmin, nil)
	f.assign(t, "PA1", rbac.UserTypePMC, rbac.RolePMCAdmin, &rbac.AssignmentScope{PMCID: "P1"})
	f.assign(t, "PM2", rbac.UserTypePMC, rbac.RolePM, &rbac.AssignmentScope{PMCID: "P2"})
	for _, id := range []string{"L1", "L2", "L9"} {
		f.assign(t, id, rbac.UserTypeLandlord, rbac.RoleLandlord, nil)
	}
	f.assign(t, "T1", rbac.UserTypeTenant, rbac.RoleTenant, nil)
	f.assign(t, "T2", rbac.UserTypeTenant, rbac.RoleTenant, nil)
	f.assign(t, "V1", rbac.UserTypeVendor, rbac.RoleVendor, nil)

	registry := rbac.MustNewRegistry(rbac.DefaultCatalog(), rbac.DefaultRoleTable())
	base := []Option{WithLocator(store), WithAuditLogger(f.audit)}
	f.engine = NewEngine(registry, store, scope.NewResolver(store), append(base, opts...)...)
	return f
}

func (f *fixture) assign(t *testing.T, userID string, userType rbac.UserType, role rbac.Role, sc *rbac.AssignmentScope) *rbac.UserRoleAssignment {
	t.Helper()
	a, err := rbac.NewAssignment(rbac.AssignmentParams{UserID: userID, UserType: userType, Role: role, Scope: sc})
	require.NoError(t, err)
	require.NoError(t, f.store.Assign(context.Background(), a))
	return a
}

func (f *fixture) revoke(t *testing.T, userID string, userType rbac.UserType) {
	t.Helper()
	ctx := context.Background()
	a, err := f.store.ActiveAssignment(ctx, userID, userType)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NoError(t, f.store.Revoke(ctx, a.ID, time.Now()))
}

var errStoreDown = errors.New("connection refused")

type failingAssignments struct{}

func (failingAssignments) ActiveAssignment(context.Context, string, rbac.UserType) (*rbac.UserRoleAssignment, error) {
	return nil, errStoreDown
}

type failingLocator struct{}

func (failingLocator) Locate(context.Context, rbac.Resource, string) (scope.Location, error) {
	return scope.Location{}, errStoreDown
}

type failingResolver struct{}

func (failingResolver) Resolve(_ context.Context, a *rbac.UserRoleAssignment) (*scope.ScopeContext, error) {
	return nil, &scope.ResolutionError{Role: a.Role, UserID: a.UserID, Op: "pmc relationships", Err: errStoreDown}
}
