package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/invitations"
)

var _ invitations.Repository = (*Store)(nil)

const invitationColumns = `id, email, property_id, landlord_id, invited_by, invited_by_role,
	invited_by_admin_id, invited_by_landlord_id, invited_by_pmc_id, created_at`

const applicationColumns = `id, invitation_id, applicant_id, status, submitted_at, decided_at, decided_by`

func scanInvitation(row rowScanner) (*invitations.Invitation, error) {
	var inv invitations.Invitation
	var property, landlord, by, byRole, byAdmin, byLandlord, byPMC sql.NullString
	if err := row.Scan(&inv.ID, &inv.Email, &property, &landlord, &by, &byRole,
		&byAdmin, &byLandlord, &byPMC, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.PropertyID, inv.LandlordID = property.String, landlord.String
	inv.InvitedBy, inv.InvitedByRole = by.String, byRole.String
	inv.InvitedByAdminID = byAdmin.String
	inv.InvitedByLandlordID = byLandlord.String
	inv.InvitedByPMCID = byPMC.String
	return &inv, nil
}

func scanApplication(row rowScanner) (*invitations.Application, error) {
	var app invitations.Application
	var status string
	var decidedAt sql.NullTime
	var decidedBy sql.NullString
	if err := row.Scan(&app.ID, &app.InvitationID, &app.ApplicantID, &status,
		&app.SubmittedAt, &decidedAt, &decidedBy); err != nil {
		return nil, err
	}
	app.Status = invitations.Status(status)
	app.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := decidedAt.Time
		app.DecidedAt = &t
	}
	return &app, nil
}

// CreateInvitation implements invitations.Repository
func (s *Store) CreateInvitation(ctx context.Context, inv *invitations.Invitation) error {
	created := inv.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.conns.Primary().ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.Email, nullString(inv.PropertyID), nullString(inv.LandlordID),
		nullString(inv.InvitedBy), nullString(inv.InvitedByRole),
		nullString(inv.InvitedByAdminID), nullString(inv.InvitedByLandlordID), nullString(inv.InvitedByPMCID),
		created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation %s: %w", inv.ID, err)
	}
	return nil
}

// GetInvitation implements invitations.Repository
func (s *Store) GetInvitation(ctx context.Context, id string) (*invitations.Invitation, error) {
	inv, err := scanInvitation(s.conns.Primary().QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, invitations.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation %s: %w", id, err)
	}
	return inv, nil
}

// InvitationsByInviter implements invitations.Repository
func (s *Store) InvitationsByInviter(ctx context.Context, userID string) ([]*invitations.Invitation, error) {
	return s.queryInvitations(ctx, s.conns.Primary(), `SELECT `+invitationColumns+`
		FROM invitations
		WHERE invited_by = $1 OR invited_by_admin_id = $1
			OR invited_by_landlord_id = $1 OR invited_by_pmc_id = $1
		ORDER BY id`, userID)
}

// ScanInvitations implements invitations.Repository
func (s *Store) ScanInvitations(ctx context.Context, afterID string, limit int) ([]*invitations.Invitation, error) {
	// reconciler scans may lag the primary
	return s.queryInvitations(ctx, s.conns.Replica(), `SELECT `+invitationColumns+`
		FROM invitations
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
}

func (s *Store) queryInvitations(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*invitations.Invitation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitations: %w", err)
	}
	defer rows.Close()

	out := []*invitations.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invitations: %w", err)
	}
	return out, nil
}

// CreateApplication implements invitations.Repository
func (s *Store) CreateApplication(ctx context.Context, app *invitations.Application) error {
	status := app.Status
	if status == "" {
		status = invitations.StatusPending
	}
	submitted := app.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var invitationID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM invitations WHERE id = $1`, app.InvitationID).Scan(&invitationID)
	if err == sql.ErrNoRows {
		return invitations.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load invitation %s: %w", app.InvitationID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		app.ID, invitationID, app.ApplicantID, string(status), submitted.UTC(),
		nullTime(app.DecidedAt), nullString(app.DecidedBy),
	); err != nil {
		return fmt.Errorf("failed to create application %s: %w", app.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit application %s: %w", app.ID, err)
	}
	return nil
}

// GetApplication implements invitations.Repository
func (s *Store) GetApplication(ctx context.Context, id string) (*invitations.Application, error) {
	app, err := scanApplication(s.conns.Primary().QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, invitations.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application %s: %w", id, err)
	}
	return app, nil
}

// ApplicationsForInvitations implements invitations.Repository
func (s *Store) ApplicationsForInvitations(ctx context.Context, invitationIDs []string) ([]*invitations.Application, error) {
	out := []*invitations.Application{}
	if len(invitationIDs) == 0 {
		return out, nil
	}

	rows, err := s.conns.Primary().QueryContext(ctx, `SELECT `+applicationColumns+`
		FROM applications
		WHERE invitation_id IN (`+placeholders(1, len(invitationIDs))+`)
		ORDER BY id`, stringArgs(invitationIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read applications: %w", err)
	}
	return out, nil
}

// DecideApplication implements invitations.Repository. The status guard is
// part of the UPDATE so two concurrent decisions cannot both succeed.
func (s *Store) DecideApplication(ctx context.Context, id string, status invitations.Status, decidedBy string, at time.Time) error {
	res, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE applications
		SET status = $1, decided_at = $2, decided_by = $3
		WHERE id = $4 AND status = $5`,
		string(status), at.UTC(), decidedBy, id, string(invitations.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to decide application %s: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetApplication(ctx, id); err != nil {
		return err
	}
	return invitations.ErrInvalidTransition
}
