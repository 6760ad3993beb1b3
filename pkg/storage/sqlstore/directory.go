package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
)

// PMCRelationships implements scope.Directory
func (s *Store) PMCRelationships(ctx context.Context, pmcID string) ([]scope.Relationship, error) {
	return s.relationships(ctx, "pmc_id", pmcID)
}

// LandlordRelationships implements scope.Directory
func (s *Store) LandlordRelationships(ctx context.Context, landlordID string) ([]scope.Relationship, error) {
	return s.relationships(ctx, "landlord_id", landlordID)
}

func (s *Store) relationships(ctx context.Context, column, id string) ([]scope.Relationship, error) {
	query := `
		SELECT pmc_id, landlord_id, status, started_at, ended_at
		FROM pmc_landlord_relationships
		WHERE ` + column + ` = $1
		ORDER BY pmc_id, landlord_id
	`
	rows, err := s.conns.Primary().QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var out []scope.Relationship
	for rows.Next() {
		var r scope.Relationship
		var ended sql.NullTime
		if err := rows.Scan(&r.PMCID, &r.LandlordID, &r.Status, &r.StartedAt, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read relationships: %w", err)
	}
	return out, nil
}

// PropertiesByLandlords implements scope.Directory
func (s *Store) PropertiesByLandlords(ctx context.Context, landlordIDs []string) ([]scope.Property, error) {
	return s.properties(ctx, "landlord_id", landlordIDs)
}

// PropertiesByIDs implements scope.Directory
func (s *Store) PropertiesByIDs(ctx context.Context, propertyIDs []string) ([]scope.Property, error) {
	return s.properties(ctx, "id", propertyIDs)
}

func (s *Store) properties(ctx context.Context, column string, ids []string) ([]scope.Property, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, landlord_id FROM properties WHERE ` + column +
		` IN (` + placeholders(1, len(ids)) + `) ORDER BY id`

	rows, err := s.conns.Primary().QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var out []scope.Property
	for rows.Next() {
		var p scope.Property
		if err := rows.Scan(&p.ID, &p.LandlordID); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}
	return out, nil
}

// LeasesForTenant implements scope.Directory
func (s *Store) LeasesForTenant(ctx context.Context, tenantID string) ([]scope.Lease, error) {
	query := `
		SELECT id, tenant_id, property_id, unit_id, landlord_id, status
		FROM leases
		WHERE tenant_id = $1
		ORDER BY id
	`
	rows, err := s.conns.Primary().QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leases: %w", err)
	}
	defer rows.Close()

	var out []scope.Lease
	for rows.Next() {
		var l scope.Lease
		var unit, landlord sql.NullString
		if err := rows.Scan(&l.ID, &l.TenantID, &l.PropertyID, &unit, &landlord, &l.Status); err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		l.UnitID, l.LandlordID = unit.String, landlord.String
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leases: %w", err)
	}
	return out, nil
}

// WorkOrdersForVendor implements scope.Directory
func (s *Store) WorkOrdersForVendor(ctx context.Context, vendorID string) ([]scope.WorkOrder, error) {
	query := `
		SELECT id, vendor_id, property_id, unit_id, status
		FROM work_orders
		WHERE vendor_id = $1
		ORDER BY id
	`
	rows, err := s.conns.Primary().QueryContext(ctx, query, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}
	defer rows.Close()

	var out []scope.WorkOrder
	for rows.Next() {
		var w scope.WorkOrder
		var unit sql.NullString
		if err := rows.Scan(&w.ID, &w.VendorID, &w.PropertyID, &unit, &w.Status); err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		w.UnitID = unit.String
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read work orders: %w", err)
	}
	return out, nil
}

// VendorRelationships implements scope.Directory
func (s *Store) VendorRelationships(ctx context.Context, vendorID string) ([]scope.VendorRelationship, error) {
	query := `
		SELECT vendor_id, pmc_id, status, ended_at
		FROM vendor_pmc_relationships
		WHERE vendor_id = $1
		ORDER BY pmc_id
	`
	rows, err := s.conns.Primary().QueryContext(ctx, query, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendor relationships: %w", err)
	}
	defer rows.Close()

	var out []scope.VendorRelationship
	for rows.Next() {
		var r scope.VendorRelationship
		var ended sql.NullTime
		if err := rows.Scan(&r.VendorID, &r.PMCID, &r.Status, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan vendor relationship: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vendor relationships: %w", err)
	}
	return out, nil
}

// Locate implements scope.Locator
func (s *Store) Locate(ctx context.Context, resourceType rbac.Resource, id string) (scope.Location, error) {
	db := s.conns.Primary()

	switch resourceType {
	case rbac.ResourceUnit:
		var property string
		err := db.QueryRowContext(ctx, `SELECT property_id FROM units WHERE id = $1`, id).Scan(&property)
		if err != nil {
			return scope.Location{}, locateErr(err, resourceType, id)
		}
		return scope.Location{PropertyIDs: []string{property}, UnitID: id}, nil
	case rbac.ResourceLease, rbac.ResourceWorkOrder:
		table := "leases"
		if resourceType == rbac.ResourceWorkOrder {
			table = "work_orders"
		}
		var property string
		var unit sql.NullString
		err := db.QueryRowContext(ctx, `SELECT property_id, unit_id FROM `+table+` WHERE id = $1`, id).Scan(&property, &unit)
		if err != nil {
			return scope.Location{}, locateErr(err, resourceType, id)
		}
		return scope.Location{PropertyIDs: []string{property}, UnitID: unit.String}, nil
	case rbac.ResourceTenant:
		return s.locateTenant(ctx, db, id)
	default:
		return scope.Location{}, scope.ErrNotFound
	}
}

func (s *Store) locateTenant(ctx context.Context, db *sql.DB, tenantID string) (scope.Location, error) {
	query := `
		SELECT DISTINCT property_id
		FROM leases
		WHERE tenant_id = $1 AND LOWER(status) = 'active'
		ORDER BY property_id
	`
	rows, err := db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return scope.Location{}, fmt.Errorf("failed to locate tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var loc scope.Location
	for rows.Next() {
		var property string
		if err := rows.Scan(&property); err != nil {
			return scope.Location{}, fmt.Errorf("failed to scan tenant property: %w", err)
		}
		loc.PropertyIDs = append(loc.PropertyIDs, property)
	}
	if err := rows.Err(); err != nil {
		return scope.Location{}, fmt.Errorf("failed to locate tenant %s: %w", tenantID, err)
	}
	if len(loc.PropertyIDs) == 0 {
		return scope.Location{}, scope.ErrNotFound
	}
	return loc, nil
}

func locateErr(err error, resourceType rbac.Resource, id string) error {
	if err == sql.ErrNoRows {
		return scope.ErrNotFound
	}
	return fmt.Errorf("failed to locate %s %s: %w", resourceType, id, err)
}
