package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
	"github.com/platinummonkey/tenantguard/pkg/storage"
	"github.com/platinummonkey/tenantguard/pkg/storage/sqlstore"
)

// execute runs the command tree with args and returns what it printed
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd("test", "none", "unknown")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seededSQLite points the environment at a sqlite file holding
//
//	P1 manages L1 (PR1), P2 manages L9 (PR9)
//	PA1 is pmc_admin of P1, L1 and L9 are landlords
func seededSQLite(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tenantguard.db")

	t.Setenv("TENANTGUARD_STORAGE_DRIVER", "sqlite3")
	t.Setenv("TENANTGUARD_DATABASE_URL", path)
	t.Setenv("TENANTGUARD_AUDIT_SINKS", "db")
	t.Setenv("TENANTGUARD_LOG_LEVEL", "error")

	cfg := storage.DefaultConfig()
	cfg.Driver = sqlstore.DriverSQLite
	cfg.DSN = path
	s, err := sqlstore.Open(ctx, cfg, sqlstore.WithLogger(observability.Discard()))
	require.NoError(t, err)
	defer s.Close()

	for _, rel := range []scope.Relationship{
		{PMCID: "P1", LandlordID: "L1", Status: scope.RelationshipActive},
		{PMCID: "P2", LandlordID: "L9", Status: scope.RelationshipActive},
	} {
		require.NoError(t, s.PutRelationship(ctx, rel))
	}
	require.NoError(t, s.PutProperty(ctx, scope.Property{ID: "PR1", LandlordID: "L1"}))
	require.NoError(t, s.PutProperty(ctx, scope.Property{ID: "PR9", LandlordID: "L9"}))

	for _, p := range []rbac.AssignmentParams{
		{UserID: "PA1", UserType: rbac.UserTypePMC, Role: rbac.RolePMCAdmin, Scope: &rbac.AssignmentScope{PMCID: "P1"}},
		{UserID: "L1", UserType: rbac.UserTypeLandlord, Role: rbac.RoleLandlord},
		{UserID: "L9", UserType: rbac.UserTypeLandlord, Role: rbac.RoleLandlord},
	} {
		a, err := rbac.NewAssignment(p)
		require.NoError(t, err)
		require.NoError(t, s.Assign(ctx, a))
	}
}
