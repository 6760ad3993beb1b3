package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/authz"
	"github.com/platinummonkey/tenantguard/pkg/invitations"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
	"github.com/platinummonkey/tenantguard/pkg/storage"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []scope.ChangeEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ev scope.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) take() []scope.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func newSQLiteStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Driver = DriverSQLite
	cfg.DSN = ":memory:"

	s, err := Open(context.Background(), cfg, append([]Option{WithLogger(observability.Discard())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), storage.Config{Driver: "mysql"})
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, s.DB()))

	var version int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version))
	assert.Equal(t, SchemaVersion(), version)
}

func TestSQLiteStoreContract(t *testing.T) {
	notifier := &recordingNotifier{}
	s := newSQLiteStore(t, WithNotifier(notifier))
	runStoreContract(t, s, notifier)
}

func TestSQLiteInvitationsContract(t *testing.T) {
	runInvitationsContract(t, newSQLiteStore(t))
}

// seed loads the standard two PMC fixture:
//
//	P1 manages L1 (PR1: U1) and L2 (PR2: U2), P2 manages L9 (PR9)
//	T1 leases U1, T2 leases U2; V1 works WO1 on U1 and the cancelled WO2
func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, rel := range []scope.Relationship{
		{PMCID: "P1", LandlordID: "L1", Status: scope.RelationshipActive, StartedAt: start},
		{PMCID: "P1", LandlordID: "L2", Status: scope.RelationshipActive, StartedAt: start},
		{PMCID: "P2", LandlordID: "L9", Status: scope.RelationshipActive, StartedAt: start},
	} {
		require.NoError(t, s.PutRelationship(ctx, rel))
	}
	for _, p := range []scope.Property{{ID: "PR1", LandlordID: "L1"}, {ID: "PR2", LandlordID: "L2"}, {ID: "PR9", LandlordID: "L9"}} {
		require.NoError(t, s.PutProperty(ctx, p))
	}
	require.NoError(t, s.PutUnit(ctx, "U1", "PR1"))
	require.NoError(t, s.PutLease(ctx, scope.Lease{ID: "LS1", TenantID: "T1", PropertyID: "PR1", UnitID: "U1", LandlordID: "L1", Status: scope.LeaseStatusActive}))
	require.NoError(t, s.PutLease(ctx, scope.Lease{ID: "LS2", TenantID: "T2", PropertyID: "PR2", UnitID: "U2", LandlordID: "L2", Status: scope.LeaseStatusActive}))
	require.NoError(t, s.PutWorkOrder(ctx, scope.WorkOrder{ID: "WO1", VendorID: "V1", PropertyID: "PR1", UnitID: "U1", Status: "open"}))
	require.NoError(t, s.PutWorkOrder(ctx, scope.WorkOrder{ID: "WO2", VendorID: "V1", PropertyID: "PR2", Status: scope.WorkOrderCancelled}))
	require.NoError(t, s.PutVendorRelationship(ctx, scope.VendorRelationship{VendorID: "V1", PMCID: "P1", Status: scope.RelationshipActive}))
}

func runStoreContract(t *testing.T, s *Store, notifier *recordingNotifier) {
	ctx := context.Background()
	seed(t, s)

	t.Run("notifications", func(t *testing.T) {
		events := notifier.take()
		assert.Contains(t, events, scope.ChangeEvent{PMCID: "P1", LandlordID: "L1"})
		assert.Contains(t, events, scope.ChangeEvent{LandlordID: "L9"})
		assert.Contains(t, events, scope.ChangeEvent{TenantID: "T2"})
		assert.Contains(t, events, scope.ChangeEvent{VendorID: "V1"})

		require.NoError(t, s.PutProperty(ctx, scope.Property{ID: "PR9", LandlordID: "L2"}))
		assert.Equal(t, []scope.ChangeEvent{{LandlordID: "L9"}, {LandlordID: "L2"}}, notifier.take())
		require.NoError(t, s.PutProperty(ctx, scope.Property{ID: "PR9", LandlordID: "L9"}))
		notifier.take()
	})

	t.Run("directory", func(t *testing.T) {
		rels, err := s.PMCRelationships(ctx, "P1")
		require.NoError(t, err)
		require.Len(t, rels, 2)
		assert.Equal(t, "L1", rels[0].LandlordID)
		assert.True(t, rels[0].ActiveAt(time.Now()))
		assert.Nil(t, rels[0].EndedAt)

		rels, err = s.LandlordRelationships(ctx, "L9")
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, "P2", rels[0].PMCID)

		props, err := s.PropertiesByLandlords(ctx, []string{"L1", "L2"})
		require.NoError(t, err)
		assert.Equal(t, []scope.Property{{ID: "PR1", LandlordID: "L1"}, {ID: "PR2", LandlordID: "L2"}}, props)

		props, err = s.PropertiesByIDs(ctx, []string{"PR9", "missing"})
		require.NoError(t, err)
		assert.Equal(t, []scope.Property{{ID: "PR9", LandlordID: "L9"}}, props)

		props, err = s.PropertiesByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, props)

		leases, err := s.LeasesForTenant(ctx, "T1")
		require.NoError(t, err)
		require.Len(t, leases, 1)
		assert.Equal(t, scope.Lease{ID: "LS1", TenantID: "T1", PropertyID: "PR1", UnitID: "U1", LandlordID: "L1", Status: scope.LeaseStatusActive}, leases[0])

		orders, err := s.WorkOrdersForVendor(ctx, "V1")
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, "", orders[1].UnitID)
		assert.False(t, orders[1].Open())

		vrels, err := s.VendorRelationships(ctx, "V1")
		require.NoError(t, err)
		require.Len(t, vrels, 1)
		assert.Equal(t, "P1", vrels[0].PMCID)
	})

	t.Run("locate", func(t *testing.T) {
		tests := []struct {
			resource rbac.Resource
			id       string
			want     scope.Location
		}{
			{rbac.ResourceUnit, "U1", scope.Location{PropertyIDs: []string{"PR1"}, UnitID: "U1"}},
			{rbac.ResourceUnit, "U2", scope.Location{PropertyIDs: []string{"PR2"}, UnitID: "U2"}},
			{rbac.ResourceLease, "LS2", scope.Location{PropertyIDs: []string{"PR2"}, UnitID: "U2"}},
			{rbac.ResourceWorkOrder, "WO2", scope.Location{PropertyIDs: []string{"PR2"}}},
			{rbac.ResourceTenant, "T1", scope.Location{PropertyIDs: []string{"PR1"}}},
		}
		for _, tt := range tests {
			got, err := s.Locate(ctx, tt.resource, tt.id)
			require.NoError(t, err, "%s %s", tt.resource, tt.id)
			assert.Equal(t, tt.want, got, "%s %s", tt.resource, tt.id)
		}

		for _, missing := range []struct {
			resource rbac.Resource
			id       string
		}{
			{rbac.ResourceUnit, "U404"},
			{rbac.ResourceLease, "LS404"},
			{rbac.ResourceWorkOrder, "WO404"},
			{rbac.ResourceTenant, "T404"},
			{rbac.ResourceInvoice, "INV1"},
		} {
			_, err := s.Locate(ctx, missing.resource, missing.id)
			assert.ErrorIs(t, err, scope.ErrNotFound, "%s %s", missing.resource, missing.id)
		}
	})

	t.Run("assignments", func(t *testing.T) {
		a, err := rbac.NewAssignment(rbac.AssignmentParams{
			UserID: "PM1", UserType: rbac.UserTypePMC, Role: rbac.RolePM,
			Scope:     &rbac.AssignmentScope{PMCID: "P1", PropertyIDs: []string{"PR1", "PR2"}},
			GrantedBy: "A1",
		})
		require.NoError(t, err)
		require.NoError(t, s.Assign(ctx, a))

		got, err := s.ActiveAssignment(ctx, "PM1", rbac.UserTypePMC)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, rbac.RolePM, got.Role)
		assert.Equal(t, a.Scope, got.Scope)
		assert.Equal(t, "A1", got.GrantedBy)
		assert.True(t, got.IsActive)
		assert.WithinDuration(t, a.GrantedAt, got.GrantedAt, time.Millisecond)

		second, err := rbac.NewAssignment(rbac.AssignmentParams{
			UserID: "PM1", UserType: rbac.UserTypePMC, Role: rbac.RolePMCAdmin,
			Scope:     &rbac.AssignmentScope{PMCID: "P1"},
			GrantedAt: a.GrantedAt.Add(time.Minute),
		})
		require.NoError(t, err)
		assert.ErrorIs(t, s.Assign(ctx, second), storage.ErrActiveAssignmentExists)

		require.NoError(t, s.Revoke(ctx, a.ID, time.Now()))
		assert.ErrorIs(t, s.Revoke(ctx, a.ID, time.Now()), storage.ErrAssignmentNotFound)
		assert.ErrorIs(t, s.Revoke(ctx, "missing", time.Now()), storage.ErrAssignmentNotFound)

		got, err = s.ActiveAssignment(ctx, "PM1", rbac.UserTypePMC)
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, s.Assign(ctx, second))
		all, err := s.ListAssignments(ctx, "PM1", rbac.UserTypePMC)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a.ID, all[0].ID)
		assert.False(t, all[0].IsActive)
		assert.NotNil(t, all[0].RevokedAt)
		assert.Equal(t, rbac.RolePMCAdmin, all[1].Role)
		assert.Nil(t, all[1].Scope.PropertyIDs)
	})

	t.Run("end relationship", func(t *testing.T) {
		at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.EndRelationship(ctx, "P1", "L2", at))
		assert.Equal(t, []scope.ChangeEvent{{PMCID: "P1", LandlordID: "L2"}}, notifier.take())
		assert.ErrorIs(t, s.EndRelationship(ctx, "P1", "L404", at), scope.ErrNotFound)

		rels, err := s.LandlordRelationships(ctx, "L2")
		require.NoError(t, err)
		require.Len(t, rels, 1)
		require.NotNil(t, rels[0].EndedAt)
		assert.True(t, rels[0].EndedAt.Equal(at))
		assert.False(t, rels[0].ActiveAt(at.Add(time.Hour)))
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, s.HealthCheck(ctx))
	})
}

func runInvitationsContract(t *testing.T, s *Store) {
	ctx := context.Background()
	created := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	for _, inv := range []invitations.Invitation{
		{ID: "INV1", Email: "a@example.com", PropertyID: "PR1", InvitedByLandlordID: "L1", CreatedAt: created},
		{ID: "INV2", Email: "b@example.com", LandlordID: "L1", InvitedBy: "L1", InvitedByRole: "landlord", CreatedAt: created},
		{ID: "INV3", Email: "c@example.com", PropertyID: "PR2", InvitedByPMCID: "PA1", CreatedAt: created},
	} {
		inv := inv
		require.NoError(t, s.CreateInvitation(ctx, &inv))
	}

	got, err := s.GetInvitation(ctx, "INV2")
	require.NoError(t, err)
	assert.Equal(t, "L1", got.LandlordID)
	assert.Equal(t, "", got.PropertyID)
	assert.Equal(t, "landlord", got.InvitedByRole)
	assert.True(t, got.CreatedAt.Equal(created))

	_, err = s.GetInvitation(ctx, "missing")
	assert.ErrorIs(t, err, invitations.ErrNotFound)

	byL1, err := s.InvitationsByInviter(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, byL1, 2)
	assert.Equal(t, "INV1", byL1[0].ID)
	assert.Equal(t, "INV2", byL1[1].ID)

	page, err := s.ScanInvitations(ctx, "INV1", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "INV2", page[0].ID)

	require.NoError(t, s.CreateApplication(ctx, &invitations.Application{ID: "APP1", InvitationID: "INV1", ApplicantID: "T9", SubmittedAt: created}))
	require.NoError(t, s.CreateApplication(ctx, &invitations.Application{ID: "APP3", InvitationID: "INV3", ApplicantID: "T8", SubmittedAt: created}))
	assert.ErrorIs(t, s.CreateApplication(ctx, &invitations.Application{ID: "APPX", InvitationID: "missing", ApplicantID: "T7"}), invitations.ErrNotFound)

	app, err := s.GetApplication(ctx, "APP1")
	require.NoError(t, err)
	assert.Equal(t, invitations.StatusPending, app.Status)
	assert.Nil(t, app.DecidedAt)

	apps, err := s.ApplicationsForInvitations(ctx, []string{"INV1", "INV2"})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "APP1", apps[0].ID)

	apps, err = s.ApplicationsForInvitations(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, apps)

	decided := created.Add(24 * time.Hour)
	require.NoError(t, s.DecideApplication(ctx, "APP1", invitations.StatusApproved, "L1", decided))
	assert.ErrorIs(t, s.DecideApplication(ctx, "APP1", invitations.StatusRejected, "L1", decided), invitations.ErrInvalidTransition)
	assert.ErrorIs(t, s.DecideApplication(ctx, "missing", invitations.StatusRejected, "L1", decided), invitations.ErrNotFound)

	app, err = s.GetApplication(ctx, "APP1")
	require.NoError(t, err)
	assert.Equal(t, invitations.StatusApproved, app.Status)
	assert.Equal(t, "L1", app.DecidedBy)
	require.NotNil(t, app.DecidedAt)
	assert.True(t, app.DecidedAt.Equal(decided))
}

// The engine behaves the same over SQL as over the memory store
func TestEngineOverSQLite(t *testing.T) {
	s := newSQLiteStore(t)
	seed(t, s)
	ctx := context.Background()

	for _, p := range []rbac.AssignmentParams{
		{UserID: "PA1", UserType: rbac.UserTypePMC, Role: rbac.RolePMCAdmin, Scope: &rbac.AssignmentScope{PMCID: "P1"}},
		{UserID: "T1", UserType: rbac.UserTypeTenant, Role: rbac.RoleTenant},
		{UserID: "V1", UserType: rbac.UserTypeVendor, Role: rbac.RoleVendor},
	} {
		a, err := rbac.NewAssignment(p)
		require.NoError(t, err)
		require.NoError(t, s.Assign(ctx, a))
	}

	registry := rbac.MustNewRegistry(rbac.DefaultCatalog(), rbac.DefaultRoleTable())
	engine := authz.NewEngine(registry, s, scope.NewResolver(s), authz.WithLocator(s), authz.WithLogger(observability.Discard()))

	tests := []struct {
		user     string
		userType rbac.UserType
		resource rbac.Resource
		id       string
		want     bool
	}{
		{"PA1", rbac.UserTypePMC, rbac.ResourceProperty, "PR2", true},
		{"PA1", rbac.UserTypePMC, rbac.ResourceProperty, "PR9", false},
		{"PA1", rbac.UserTypePMC, rbac.ResourceTenant, "T2", true},
		{"T1", rbac.UserTypeTenant, rbac.ResourceLease, "LS1", true},
		{"T1", rbac.UserTypeTenant, rbac.ResourceLease, "LS2", false},
		{"V1", rbac.UserTypeVendor, rbac.ResourceWorkOrder, "WO1", true},
		{"V1", rbac.UserTypeVendor, rbac.ResourceWorkOrder, "WO2", false},
	}
	for _, tt := range tests {
		got := engine.CanAccess(ctx, tt.user, tt.userType, tt.id, tt.resource)
		assert.Equal(t, tt.want, got, "%s -> %s %s", tt.user, tt.resource, tt.id)
	}
}
