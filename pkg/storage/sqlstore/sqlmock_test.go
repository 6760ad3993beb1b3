package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/invitations"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
	"github.com/platinummonkey/tenantguard/pkg/storage"
)

var errConnReset = errors.New("connection reset by peer")

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return New(db, DriverPostgres), mock
}

func TestActiveAssignmentQueryFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .+ FROM role_assignments").
		WithArgs("T1", "tenant", true).
		WillReturnError(errConnReset)

	a, err := s.ActiveAssignment(context.Background(), "T1", rbac.UserTypeTenant)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, errConnReset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveAssignmentRejectsUnknownRole(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "user_type", "role", "scope_pmc_id", "scope_landlord_id",
		"scope_property_ids", "is_active", "granted_by", "granted_at", "revoked_at"}).
		AddRow("a1", "T1", "tenant", "owner", nil, nil, nil, true, nil, now, nil)
	mock.ExpectQuery("SELECT .+ FROM role_assignments").WillReturnRows(rows)

	_, err := s.ActiveAssignment(context.Background(), "T1", rbac.UserTypeTenant)
	require.Error(t, err)
	assert.True(t, rbac.IsValidationError(err))
}

func TestDirectoryQueryFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("relationships", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM pmc_landlord_relationships").WithArgs("P1").WillReturnError(errConnReset)
		_, err := s.PMCRelationships(ctx, "P1")
		assert.ErrorIs(t, err, errConnReset)
	})

	t.Run("properties", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM properties WHERE landlord_id IN \(\$1, \$2\)`).
			WithArgs("L1", "L2").WillReturnError(errConnReset)
		_, err := s.PropertiesByLandlords(ctx, []string{"L1", "L2"})
		assert.ErrorIs(t, err, errConnReset)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row error", func(t *testing.T) {
		s, mock := newMockStore(t)
		rows := sqlmock.NewRows([]string{"id", "tenant_id", "property_id", "unit_id", "landlord_id", "status"}).
			AddRow("LS1", "T1", "PR1", "U1", "L1", "Active").
			RowError(0, errConnReset)
		mock.ExpectQuery("FROM leases").WithArgs("T1").WillReturnRows(rows)
		leases, err := s.LeasesForTenant(ctx, "T1")
		assert.Nil(t, leases)
		assert.ErrorIs(t, err, errConnReset)
	})
}

func TestLocateDistinguishesMissingFromFailure(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT property_id FROM units").WithArgs("U404").WillReturnError(sql.ErrNoRows)
	_, err := s.Locate(ctx, rbac.ResourceUnit, "U404")
	assert.ErrorIs(t, err, scope.ErrNotFound)

	mock.ExpectQuery("SELECT property_id, unit_id FROM work_orders").WithArgs("WO1").WillReturnError(errConnReset)
	_, err = s.Locate(ctx, rbac.ResourceWorkOrder, "WO1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, scope.ErrNotFound)
	assert.ErrorIs(t, err, errConnReset)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	a, err := rbac.NewAssignment(rbac.AssignmentParams{UserID: "T1", UserType: rbac.UserTypeTenant, Role: rbac.RoleTenant})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WithArgs("T1", "tenant", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO role_assignments").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	assert.ErrorIs(t, s.Assign(context.Background(), a), storage.ErrActiveAssignmentExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE role_assignments").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.Revoke(context.Background(), "a1", time.Now()), storage.ErrAssignmentNotFound)
}

func TestDecideApplicationRace(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE applications").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM applications WHERE id").WithArgs("APP1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "invitation_id", "applicant_id", "status", "submitted_at", "decided_at", "decided_by"}).
			AddRow("APP1", "INV1", "T9", "approved", now, now, "L1"))

	err := s.DecideApplication(context.Background(), "APP1", invitations.StatusRejected, "L2", now)
	assert.ErrorIs(t, err, invitations.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheckPingFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectPing().WillReturnError(errConnReset)

	err := s.HealthCheck(context.Background())
	assert.ErrorIs(t, err, errConnReset)
	assert.Contains(t, err.Error(), "primary unhealthy")
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(1, 0))
	assert.Equal(t, "$1", placeholders(1, 1))
	assert.Equal(t, "$3, $4, $5", placeholders(3, 3))
}

func TestParseReplicaDSNs(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{"postgres://host1/db", []string{"postgres://host1/db"}},
		{" postgres://host1/db , postgres://host2/db ", []string{"postgres://host1/db", "postgres://host2/db"}},
		{"postgres://host1/db,,", []string{"postgres://host1/db"}},
		{" , , ", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseReplicaDSNs(tt.input), "input %q", tt.input)
	}
}

func TestReplicaFallsBackToPrimary(t *testing.T) {
	s, _ := newMockStore(t)
	assert.Same(t, s.DB(), s.Connections().Replica())
	assert.Empty(t, s.Connections().Stats().Replicas)
}

func TestScopeReadsUsePrimary(t *testing.T) {
	s, primary := newMockStore(t)
	replicaDB, replica, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { replicaDB.Close() })
	s.conns.replicas = append(s.conns.replicas, replicaDB)
	ctx := context.Background()

	primary.ExpectQuery("SELECT .+ FROM pmc_landlord_relationships").
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"pmc_id", "landlord_id", "status", "started_at", "ended_at"}))
	primary.ExpectQuery("SELECT .+ FROM units").
		WithArgs("U1").
		WillReturnError(sql.ErrNoRows)

	_, err = s.PMCRelationships(ctx, "P1")
	require.NoError(t, err)
	_, err = s.Locate(ctx, rbac.ResourceUnit, "U1")
	assert.ErrorIs(t, err, scope.ErrNotFound)

	replica.ExpectQuery("SELECT .+ FROM invitations").
		WithArgs("", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = s.ScanInvitations(ctx, "", 10)
	require.NoError(t, err)

	assert.NoError(t, primary.ExpectationsWereMet())
	assert.NoError(t, replica.ExpectationsWereMet())
}
