package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/scope"
)

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// PutRelationship inserts or replaces the PMC to landlord row
func (s *Store) PutRelationship(ctx context.Context, r scope.Relationship) error {
	started := r.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.conns.Primary().ExecContext(ctx, `
		INSERT INTO pmc_landlord_relationships (pmc_id, landlord_id, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pmc_id, landlord_id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at`,
		r.PMCID, r.LandlordID, r.Status, started.UTC(), nullTime(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store relationship %s/%s: %w", r.PMCID, r.LandlordID, err)
	}
	s.notify(ctx, scope.ChangeEvent{PMCID: r.PMCID, LandlordID: r.LandlordID})
	return nil
}

// EndRelationship marks the PMC to landlord relationship ended at at
func (s *Store) EndRelationship(ctx context.Context, pmcID, landlordID string, at time.Time) error {
	res, err := s.conns.Primary().ExecContext(ctx, `
		UPDATE pmc_landlord_relationships
		SET status = $1, ended_at = $2
		WHERE pmc_id = $3 AND landlord_id = $4`,
		"ended", at.UTC(), pmcID, landlordID,
	)
	if err != nil {
		return fmt.Errorf("failed to end relationship %s/%s: %w", pmcID, landlordID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return scope.ErrNotFound
	}
	s.notify(ctx, scope.ChangeEvent{PMCID: pmcID, LandlordID: landlordID})
	return nil
}

// PutProperty inserts or replaces a property. Moving a property to another
// landlord notifies both.
func (s *Store) PutProperty(ctx context.Context, p scope.Property) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT landlord_id FROM properties WHERE id = $1`, p.ID).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load property %s: %w", p.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO properties (id, landlord_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET landlord_id = excluded.landlord_id`,
		p.ID, p.LandlordID,
	); err != nil {
		return fmt.Errorf("failed to store property %s: %w", p.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit property %s: %w", p.ID, err)
	}

	if previous != "" && previous != p.LandlordID {
		s.notify(ctx, scope.ChangeEvent{LandlordID: previous})
	}
	s.notify(ctx, scope.ChangeEvent{LandlordID: p.LandlordID})
	return nil
}

// PutUnit inserts or replaces a unit
func (s *Store) PutUnit(ctx context.Context, unitID, propertyID string) error {
	_, err := s.conns.Primary().ExecContext(ctx, `
		INSERT INTO units (id, property_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET property_id = excluded.property_id`,
		unitID, propertyID,
	)
	if err != nil {
		return fmt.Errorf("failed to store unit %s: %w", unitID, err)
	}
	return nil
}

// PutLease inserts or replaces a lease and records its unit when unknown
func (s *Store) PutLease(ctx context.Context, l scope.Lease) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO leases (id, tenant_id, property_id, unit_id, landlord_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			property_id = excluded.property_id,
			unit_id = excluded.unit_id,
			landlord_id = excluded.landlord_id,
			status = excluded.status`,
		l.ID, l.TenantID, l.PropertyID, nullString(l.UnitID), nullString(l.LandlordID), l.Status,
	); err != nil {
		return fmt.Errorf("failed to store lease %s: %w", l.ID, err)
	}
	if l.UnitID != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO units (id, property_id) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING`,
			l.UnitID, l.PropertyID,
		); err != nil {
			return fmt.Errorf("failed to store unit %s: %w", l.UnitID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lease %s: %w", l.ID, err)
	}

	s.notify(ctx, scope.ChangeEvent{TenantID: l.TenantID})
	return nil
}

// PutWorkOrder inserts or replaces a work order. Reassigning it to another
// vendor notifies both.
func (s *Store) PutWorkOrder(ctx context.Context, w scope.WorkOrder) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT vendor_id FROM work_orders WHERE id = $1`, w.ID).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load work order %s: %w", w.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_orders (id, vendor_id, property_id, unit_id, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			vendor_id = excluded.vendor_id,
			property_id = excluded.property_id,
			unit_id = excluded.unit_id,
			status = excluded.status`,
		w.ID, w.VendorID, w.PropertyID, nullString(w.UnitID), w.Status,
	); err != nil {
		return fmt.Errorf("failed to store work order %s: %w", w.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit work order %s: %w", w.ID, err)
	}

	if previous != "" && previous != w.VendorID {
		s.notify(ctx, scope.ChangeEvent{VendorID: previous})
	}
	s.notify(ctx, scope.ChangeEvent{VendorID: w.VendorID})
	return nil
}

// PutVendorRelationship inserts or replaces a vendor to PMC row
func (s *Store) PutVendorRelationship(ctx context.Context, r scope.VendorRelationship) error {
	_, err := s.conns.Primary().ExecContext(ctx, `
		INSERT INTO vendor_pmc_relationships (vendor_id, pmc_id, status, ended_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vendor_id, pmc_id) DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at`,
		r.VendorID, r.PMCID, r.Status, nullTime(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store vendor relationship %s/%s: %w", r.VendorID, r.PMCID, err)
	}
	s.notify(ctx, scope.ChangeEvent{VendorID: r.VendorID})
	return nil
}
