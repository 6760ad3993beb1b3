package scope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

type fakeDirectory struct {
	relationships       []Relationship
	properties          []Property
	leases              []Lease
	workOrders          []WorkOrder
	vendorRelationships []VendorRelationship
	err                 error
	calls               int
}

func (f *fakeDirectory) PMCRelationships(_ context.Context, pmcID string) ([]Relationship, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Relationship
	for _, r := range f.relationships {
		if r.PMCID == pmcID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDirectory) LandlordRelationships(_ context.Context, landlordID string) ([]Relationship, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Relationship
	for _, r := range f.relationships {
		if r.LandlordID == landlordID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDirectory) PropertiesByLandlords(_ context.Context, ids []string) ([]Property, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	want := toSet(ids)
	var out []Property
	for _, p := range f.properties {
		if want[p.LandlordID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeDirectory) PropertiesByIDs(_ context.Context, ids []string) ([]Property, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	want := toSet(ids)
	var out []Property
	for _, p := range f.properties {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeDirectory) LeasesForTenant(_ context.Context, tenantID string) ([]Lease, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Lease
	for _, l := range f.leases {
		if l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeDirectory) WorkOrdersForVendor(_ context.Context, vendorID string) ([]WorkOrder, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []WorkOrder
	for _, w := range f.workOrders {
		if w.VendorID == vendorID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeDirectory) VendorRelationships(_ context.Context, vendorID string) ([]VendorRelationship, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []VendorRelationship
	for _, r := range f.vendorRelationships {
		if r.VendorID == vendorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture() *fakeDirectory {
	past := testNow.Add(-24 * time.Hour)
	future := testNow.Add(24 * time.Hour)
	return &fakeDirectory{
		relationships: []Relationship{
			{PMCID: "P1", LandlordID: "L1", Status: "active"},
			{PMCID: "P1", LandlordID: "L2", Status: "active", EndedAt: &future},
			{PMCID: "P1", LandlordID: "L3", Status: "active", EndedAt: &past},
			{PMCID: "P1", LandlordID: "L4", Status: "pending"},
			{PMCID: "P2", LandlordID: "L9", Status: "active"},
		},
		properties: []Property{
			{ID: "PR1", LandlordID: "L1"},
			{ID: "PR2", LandlordID: "L2"},
			{ID: "PR3", LandlordID: "L3"},
			{ID: "PR4", LandlordID: "L4"},
			{ID: "PR9", LandlordID: "L9"},
		},
		leases: []Lease{
			{ID: "LS1", TenantID: "T1", PropertyID: "PR1", UnitID: "U1", LandlordID: "L1", Status: "Active"},
			{ID: "LS2", TenantID: "T1", PropertyID: "PR2", UnitID: "U2", LandlordID: "L2", Status: "Ended"},
			{ID: "LS3", TenantID: "T2", PropertyID: "PR1", UnitID: "U3", LandlordID: "L1", Status: "Active"},
		},
		workOrders: []WorkOrder{
			{ID: "WO1", VendorID: "V1", PropertyID: "PR1", UnitID: "U1", Status: "open"},
			{ID: "WO2", VendorID: "V1", PropertyID: "PR9", Status: "cancelled"},
		},
		vendorRelationships: []VendorRelationship{
			{VendorID: "V1", PMCID: "P1", Status: "active"},
			{VendorID: "V1", PMCID: "P2", Status: "ended"},
		},
	}
}

func assignment(role rbac.Role, userType rbac.UserType, userID string, s *rbac.AssignmentScope) *rbac.UserRoleAssignment {
	return &rbac.UserRoleAssignment{
		ID:       userID + "-" + role.String(),
		UserID:   userID,
		UserType: userType,
		Role:     role,
		Scope:    s,
		IsActive: true,
	}
}

func newTestResolver(dir Directory) *DirectoryResolver {
	return NewResolver(dir, WithClock(func() time.Time { return testNow }))
}

func TestResolve_PMC(t *testing.T) {
	r := newTestResolver(newFixture())

	sc, err := r.Resolve(context.Background(), assignment(rbac.RolePMCAdmin, rbac.UserTypePMC, "u1", &rbac.AssignmentScope{PMCID: "P1"}))
	require.NoError(t, err)

	assert.False(t, sc.CanViewAll())
	assert.Equal(t, []string{"P1"}, sc.PMCIDs())
	assert.Equal(t, []string{"L1", "L2"}, sc.LandlordIDs(), "ended and pending relationships are ignored")
	assert.Equal(t, []string{"PR1", "PR2"}, sc.PropertyIDs())
	assert.False(t, sc.HasLandlord("L9"))
	assert.False(t, sc.HasProperty("PR9"))
}

func TestResolve_PMCNarrowedByAssignment(t *testing.T) {
	r := newTestResolver(newFixture())

	t.Run("landlord restriction", func(t *testing.T) {
		sc, err := r.Resolve(context.Background(), assignment(rbac.RolePM, rbac.UserTypePMC, "u2",
			&rbac.AssignmentScope{PMCID: "P1", LandlordID: "L2"}))
		require.NoError(t, err)
		assert.Equal(t, []string{"L2"}, sc.LandlordIDs())
		assert.Equal(t, []string{"PR2"}, sc.PropertyIDs())
	})

	t.Run("property restriction never widens", func(t *testing.T) {
		sc, err := r.Resolve(context.Background(), assignment(rbac.RolePM, rbac.UserTypePMC, "u3",
			&rbac.AssignmentScope{PMCID: "P1", PropertyIDs: []string{"PR1", "PR9"}}))
		require.NoError(t, err)
		assert.Equal(t, []string{"PR1"}, sc.PropertyIDs())
		assert.Equal(t, []string{"L1"}, sc.LandlordIDs())
	})

	t.Run("missing pmc id", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), assignment(rbac.RolePM, rbac.UserTypePMC, "u4", nil))
		require.Error(t, err)
		assert.True(t, IsResolutionError(err))
	})
}

func TestResolve_Landlord(t *testing.T) {
	r := newTestResolver(newFixture())

	sc, err := r.Resolve(context.Background(), assignment(rbac.RoleLandlord, rbac.UserTypeLandlord, "L1", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"L1"}, sc.LandlordIDs())
	assert.Equal(t, []string{"PR1"}, sc.PropertyIDs())
	assert.Equal(t, []string{"P1"}, sc.PMCIDs())
	assert.False(t, sc.HasLandlord("L2"))
}

func TestResolve_Tenant(t *testing.T) {
	r := newTestResolver(newFixture())

	t.Run("active leases only", func(t *testing.T) {
		sc, err := r.Resolve(context.Background(), assignment(rbac.RoleTenant, rbac.UserTypeTenant, "T1", nil))
		require.NoError(t, err)
		assert.Equal(t, []string{"PR1"}, sc.PropertyIDs())
		assert.Equal(t, []string{"LS1"}, sc.LeaseIDs())
		assert.Equal(t, []string{"U1"}, sc.UnitIDs())
		assert.Equal(t, []string{"L1"}, sc.LandlordIDs())
	})

	t.Run("no lease is an empty scope not an error", func(t *testing.T) {
		sc, err := r.Resolve(context.Background(), assignment(rbac.RoleTenant, rbac.UserTypeTenant, "T404", nil))
		require.NoError(t, err)
		assert.True(t, sc.IsEmpty())
		assert.False(t, sc.CanViewAll())
	})

	t.Run("neighbour lease on same property stays hidden", func(t *testing.T) {
		sc, err := r.Resolve(context.Background(), assignment(rbac.RoleTenant, rbac.UserTypeTenant, "T1", nil))
		require.NoError(t, err)
		assert.True(t, sc.Contains(rbac.ResourceLease, "LS1", Location{PropertyIDs: []string{"PR1"}}))
		assert.False(t, sc.Contains(rbac.ResourceLease, "LS3", Location{PropertyIDs: []string{"PR1"}}))
		assert.False(t, sc.Contains(rbac.ResourceUnit, "U3", Location{PropertyIDs: []string{"PR1"}}))
		assert.True(t, sc.Contains(rbac.ResourceTenant, "T1", Location{}))
		assert.False(t, sc.Contains(rbac.ResourceTenant, "T2", Location{PropertyIDs: []string{"PR1"}}))
	})
}

func TestResolve_Vendor(t *testing.T) {
	r := newTestResolver(newFixture())

	sc, err := r.Resolve(context.Background(), assignment(rbac.RoleVendor, rbac.UserTypeVendor, "V1", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"WO1"}, sc.WorkOrderIDs())
	assert.Equal(t, []string{"PR1"}, sc.PropertyIDs())
	assert.Equal(t, []string{"P1"}, sc.PMCIDs())
	assert.True(t, sc.Contains(rbac.ResourceWorkOrder, "WO1", Location{PropertyIDs: []string{"PR1"}}))
	assert.False(t, sc.Contains(rbac.ResourceWorkOrder, "WO2", Location{PropertyIDs: []string{"PR9"}}))
	assert.False(t, sc.Contains(rbac.ResourceTenant, "T1", Location{PropertyIDs: []string{"PR1"}}))
}

func TestResolve_SuperAdmin(t *testing.T) {
	dir := newFixture()
	r := newTestResolver(dir)

	t.Run("unrestricted without scope", func(t *testing.T) {
		sc, err := r.Resolve(context.Background(), assignment(rbac.RoleSuperAdmin, rbac.UserTypeAdmin, "A1", nil))
		require.NoError(t, err)
		assert.True(t, sc.CanViewAll())
		assert.True(t, sc.Contains(rbac.ResourceProperty, "anything", Location{}))
	})

	t.Run("scoped admin is narrowed", func(t *testing.T) {
		sc, err := r.Resolve(context.Background(), assignment(rbac.RoleSuperAdmin, rbac.UserTypeAdmin, "A2", &rbac.AssignmentScope{PMCID: "P2"}))
		require.NoError(t, err)
		assert.False(t, sc.CanViewAll())
		assert.Equal(t, []string{"L9"}, sc.LandlordIDs())
		assert.Equal(t, []string{"PR9"}, sc.PropertyIDs())
	})

	t.Run("scoped to properties", func(t *testing.T) {
		sc, err := r.Resolve(context.Background(), assignment(rbac.RoleSuperAdmin, rbac.UserTypeAdmin, "A3", &rbac.AssignmentScope{PropertyIDs: []string{"PR2"}}))
		require.NoError(t, err)
		assert.Equal(t, []string{"PR2"}, sc.PropertyIDs())
		assert.Equal(t, []string{"L2"}, sc.LandlordIDs())
	})
}

func TestResolve_ErrorsPropagate(t *testing.T) {
	dir := newFixture()
	dir.err = errors.New("connection refused")
	r := newTestResolver(dir)

	for _, a := range []*rbac.UserRoleAssignment{
		assignment(rbac.RolePMCAdmin, rbac.UserTypePMC, "u1", &rbac.AssignmentScope{PMCID: "P1"}),
		assignment(rbac.RoleLandlord, rbac.UserTypeLandlord, "L1", nil),
		assignment(rbac.RoleTenant, rbac.UserTypeTenant, "T1", nil),
		assignment(rbac.RoleVendor, rbac.UserTypeVendor, "V1", nil),
	} {
		t.Run(a.Role.String(), func(t *testing.T) {
			sc, err := r.Resolve(context.Background(), a)
			require.Error(t, err)
			assert.Nil(t, sc, "a failed resolution must not yield a scope")
			assert.True(t, IsResolutionError(err))
			assert.ErrorIs(t, err, dir.err)
		})
	}

	_, err := r.Resolve(context.Background(), nil)
	assert.True(t, IsResolutionError(err))
}

func TestResolve_LiveData(t *testing.T) {
	dir := newFixture()
	r := newTestResolver(dir)
	a := assignment(rbac.RolePMCAdmin, rbac.UserTypePMC, "u1", &rbac.AssignmentScope{PMCID: "P1"})

	sc, err := r.Resolve(context.Background(), a)
	require.NoError(t, err)
	require.True(t, sc.HasLandlord("L1"))

	ended := testNow.Add(-time.Minute)
	dir.relationships[0].EndedAt = &ended

	sc, err = r.Resolve(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, sc.HasLandlord("L1"), "an ended relationship is invisible on the next call")
	assert.False(t, sc.HasProperty("PR1"))
}

func TestResolve_BindsAndRecordsEarliestEnd(t *testing.T) {
	r := newTestResolver(newFixture())
	ctx := context.Background()

	pmc := assignment(rbac.RolePMCAdmin, rbac.UserTypePMC, "u1", &rbac.AssignmentScope{PMCID: "P1"})
	sc, err := r.Resolve(ctx, pmc)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(24*time.Hour), sc.ExpiresAt(), "L2 ends tomorrow")
	assert.False(t, sc.ExpiredAt(testNow))
	assert.True(t, sc.ExpiredAt(testNow.Add(24*time.Hour)))

	assert.True(t, sc.ResolvedFor(pmc))
	other := assignment(rbac.RolePMCAdmin, rbac.UserTypePMC, "u2", &rbac.AssignmentScope{PMCID: "P1"})
	assert.False(t, sc.ResolvedFor(other))
	assert.False(t, Empty(rbac.RolePMCAdmin, "P1").ResolvedFor(pmc), "hand-built scopes are unbound")

	tenant, err := r.Resolve(ctx, assignment(rbac.RoleTenant, rbac.UserTypeTenant, "T1", nil))
	require.NoError(t, err)
	assert.True(t, tenant.ExpiresAt().IsZero())

	admin := assignment(rbac.RoleSuperAdmin, rbac.UserTypeAdmin, "A1", nil)
	all, err := r.Resolve(ctx, admin)
	require.NoError(t, err)
	assert.True(t, all.CanViewAll())
	assert.True(t, all.ResolvedFor(admin))
}
