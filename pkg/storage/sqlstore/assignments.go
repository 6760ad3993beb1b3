package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/storage"
)

const assignmentColumns = `id, user_id, user_type, role, scope_pmc_id, scope_landlord_id,
	scope_property_ids, is_active, granted_by, granted_at, revoked_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssignment(row rowScanner) (*rbac.UserRoleAssignment, error) {
	var (
		a                         rbac.UserRoleAssignment
		userType, role            string
		pmc, landlord, properties sql.NullString
		grantedBy                 sql.NullString
		revoked                   sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.UserID, &userType, &role, &pmc, &landlord,
		&properties, &a.IsActive, &grantedBy, &a.GrantedAt, &revoked); err != nil {
		return nil, err
	}

	a.UserType = rbac.UserType(userType)
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("assignment %s: %w", a.ID, err)
	}
	a.Role = parsed
	a.GrantedBy = grantedBy.String
	if revoked.Valid {
		t := revoked.Time
		a.RevokedAt = &t
	}

	sc := &rbac.AssignmentScope{PMCID: pmc.String, LandlordID: landlord.String}
	if properties.Valid && properties.String != "" {
		if err := json.Unmarshal([]byte(properties.String), &sc.PropertyIDs); err != nil {
			return nil, fmt.Errorf("assignment %s: invalid scope_property_ids: %w", a.ID, err)
		}
	}
	if !sc.Empty() {
		a.Scope = sc
	}
	return &a, nil
}

// ActiveAssignment implements storage.AssignmentReader. It returns nil when
// the user has no active assignment.
func (s *Store) ActiveAssignment(ctx context.Context, userID string, userType rbac.UserType) (*rbac.UserRoleAssignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE user_id = $1 AND user_type = $2 AND is_active = $3 AND revoked_at IS NULL`

	a, err := scanAssignment(s.conns.Primary().QueryRowContext(ctx, query, userID, string(userType), true))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active assignment: %w", err)
	}
	return a, nil
}

// ListAssignments returns every assignment of the user, oldest first
func (s *Store) ListAssignments(ctx context.Context, userID string, userType rbac.UserType) ([]*rbac.UserRoleAssignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM role_assignments
		WHERE user_id = $1 AND user_type = $2
		ORDER BY granted_at, id`

	rows, err := s.conns.Primary().QueryContext(ctx, query, userID, string(userType))
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*rbac.UserRoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read assignments: %w", err)
	}
	return out, nil
}

// Assign stores a new active assignment. A second active assignment for
// the same user returns storage.ErrActiveAssignmentExists.
func (s *Store) Assign(ctx context.Context, a *rbac.UserRoleAssignment) error {
	var pmc, landlord, properties sql.NullString
	if a.Scope != nil {
		pmc, landlord = nullString(a.Scope.PMCID), nullString(a.Scope.LandlordID)
		if len(a.Scope.PropertyIDs) > 0 {
			raw, err := json.Marshal(a.Scope.PropertyIDs)
			if err != nil {
				return fmt.Errorf("failed to encode scope properties: %w", err)
			}
			properties = sql.NullString{String: string(raw), Valid: true}
		}
	}

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_assignments WHERE user_id = $1 AND user_type = $2 AND is_active = $3`,
		a.UserID, string(a.UserType), true,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check existing assignment: %w", err)
	}
	if existing > 0 {
		return storage.ErrActiveAssignmentExists
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO role_assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.UserID, string(a.UserType), a.Role.String(), pmc, landlord,
		properties, a.IsActive, nullString(a.GrantedBy), a.GrantedAt.UTC(), sql.NullTime{},
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrActiveAssignmentExists
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrActiveAssignmentExists
		}
		return fmt.Errorf("failed to commit assignment: %w", err)
	}
	return nil
}

// Revoke deactivates an assignment
func (s *Store) Revoke(ctx context.Context, assignmentID string, at time.Time) error {
	res, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE role_assignments
		SET is_active = $1, revoked_at = $2
		WHERE id = $3 AND is_active = $4`,
		false, at.UTC(), assignmentID, true,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke assignment: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrAssignmentNotFound
	}
	return nil
}
