package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migrations are applied in order. Never edit a released entry; append.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS pmc_landlord_relationships (
			pmc_id      TEXT NOT NULL,
			landlord_id TEXT NOT NULL,
			status      TEXT NOT NULL,
			started_at  TIMESTAMP NOT NULL,
			ended_at    TIMESTAMP NULL,
			PRIMARY KEY (pmc_id, landlord_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pmc_landlord_landlord ON pmc_landlord_relationships (landlord_id)`,
		`CREATE TABLE IF NOT EXISTS properties (
			id          TEXT PRIMARY KEY,
			landlord_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_properties_landlord ON properties (landlord_id)`,
		`CREATE TABLE IF NOT EXISTS units (
			id          TEXT PRIMARY KEY,
			property_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS leases (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			property_id TEXT NOT NULL,
			unit_id     TEXT NULL,
			landlord_id TEXT NULL,
			status      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leases_tenant ON leases (tenant_id)`,
		`CREATE TABLE IF NOT EXISTS work_orders (
			id          TEXT PRIMARY KEY,
			vendor_id   TEXT NOT NULL,
			property_id TEXT NOT NULL,
			unit_id     TEXT NULL,
			status      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_orders_vendor ON work_orders (vendor_id)`,
		`CREATE TABLE IF NOT EXISTS vendor_pmc_relationships (
			vendor_id TEXT NOT NULL,
			pmc_id    TEXT NOT NULL,
			status    TEXT NOT NULL,
			ended_at  TIMESTAMP NULL,
			PRIMARY KEY (vendor_id, pmc_id)
		)`,
		`CREATE TABLE IF NOT EXISTS role_assignments (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			user_type          TEXT NOT NULL,
			role               TEXT NOT NULL,
			scope_pmc_id       TEXT NULL,
			scope_landlord_id  TEXT NULL,
			scope_property_ids TEXT NULL,
			is_active          BOOLEAN NOT NULL,
			granted_by         TEXT NULL,
			granted_at         TIMESTAMP NOT NULL,
			revoked_at         TIMESTAMP NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_role_assignments_active
			ON role_assignments (user_id, user_type) WHERE is_active`,
	},
	{
		`CREATE TABLE IF NOT EXISTS invitations (
			id                     TEXT PRIMARY KEY,
			email                  TEXT NOT NULL,
			property_id            TEXT NULL,
			landlord_id            TEXT NULL,
			invited_by             TEXT NULL,
			invited_by_role        TEXT NULL,
			invited_by_admin_id    TEXT NULL,
			invited_by_landlord_id TEXT NULL,
			invited_by_pmc_id      TEXT NULL,
			created_at             TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_invited_by ON invitations (invited_by)`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_landlord_fk ON invitations (invited_by_landlord_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_pmc_fk ON invitations (invited_by_pmc_id)`,
		`CREATE TABLE IF NOT EXISTS applications (
			id            TEXT PRIMARY KEY,
			invitation_id TEXT NOT NULL REFERENCES invitations (id),
			applicant_id  TEXT NOT NULL,
			status        TEXT NOT NULL,
			submitted_at  TIMESTAMP NOT NULL,
			decided_at    TIMESTAMP NULL,
			decided_by    TEXT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_applications_invitation ON applications (invitation_id)`,
	},
}

// SchemaVersion is the version Migrate brings a database to
func SchemaVersion() int {
	return len(migrations)
}

// Migrate applies every pending migration, each in its own transaction
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if err := applyMigration(ctx, db, version, migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, version, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}
