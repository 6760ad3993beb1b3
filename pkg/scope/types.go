package scope

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// RelationshipActive is the status of a live PMC management relationship
const RelationshipActive = "active"

// LeaseStatusActive is the status of a lease that grants its tenant access
const LeaseStatusActive = "Active"

// WorkOrderCancelled marks a work order that no longer grants its vendor access
const WorkOrderCancelled = "cancelled"

// ErrNotFound is returned by a Locator for an unknown resource
var ErrNotFound = errors.New("resource not found")

// Relationship is a PMC to landlord management row
type Relationship struct {
	PMCID      string
	LandlordID string
	Status     string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// ActiveAt reports whether the relationship grants visibility at now
func (r Relationship) ActiveAt(now time.Time) bool {
	return activeAt(r.Status, r.EndedAt, now)
}

// VendorRelationship is a PMC to vendor approval row
type VendorRelationship struct {
	VendorID string
	PMCID    string
	Status   string
	EndedAt  *time.Time
}

// ActiveAt reports whether the relationship grants visibility at now
func (r VendorRelationship) ActiveAt(now time.Time) bool {
	return activeAt(r.Status, r.EndedAt, now)
}

func activeAt(status string, endedAt *time.Time, now time.Time) bool {
	if !strings.EqualFold(status, RelationshipActive) {
		return false
	}
	return endedAt == nil || endedAt.After(now)
}

// Property is a property and its owning landlord
type Property struct {
	ID         string
	LandlordID string
}

// Lease links a tenant to a unit of a property
type Lease struct {
	ID         string
	TenantID   string
	PropertyID string
	UnitID     string
	LandlordID string
	Status     string
}

// Active reports whether the lease grants its tenant access
func (l Lease) Active() bool {
	return strings.EqualFold(l.Status, LeaseStatusActive)
}

// WorkOrder is a maintenance job on a property, optionally a unit
type WorkOrder struct {
	ID         string
	VendorID   string
	PropertyID string
	UnitID     string
	Status     string
}

// Open reports whether the work order still grants its vendor access
func (w WorkOrder) Open() bool {
	return !strings.EqualFold(w.Status, WorkOrderCancelled)
}

// Directory is the read side of the storage layer used to resolve scopes.
// Implementations must return errors rather than partial data.
type Directory interface {
	PMCRelationships(ctx context.Context, pmcID string) ([]Relationship, error)
	LandlordRelationships(ctx context.Context, landlordID string) ([]Relationship, error)
	PropertiesByLandlords(ctx context.Context, landlordIDs []string) ([]Property, error)
	PropertiesByIDs(ctx context.Context, propertyIDs []string) ([]Property, error)
	LeasesForTenant(ctx context.Context, tenantID string) ([]Lease, error)
	WorkOrdersForVendor(ctx context.Context, vendorID string) ([]WorkOrder, error)
	VendorRelationships(ctx context.Context, vendorID string) ([]VendorRelationship, error)
}

// Location places a concrete resource within the property tree
type Location struct {
	PropertyIDs []string
	UnitID      string
}

// Locator maps a concrete unit, lease, work order or tenant to its
// properties. Unknown ids return ErrNotFound.
type Locator interface {
	Locate(ctx context.Context, resourceType rbac.Resource, id string) (Location, error)
}

// NeedsLocation reports whether membership of resourceType requires a Locator
func NeedsLocation(resourceType rbac.Resource) bool {
	switch resourceType {
	case rbac.ResourceUnit, rbac.ResourceLease, rbac.ResourceWorkOrder, rbac.ResourceTenant:
		return true
	default:
		return false
	}
}

// Scopable reports whether individual resources of this type can be
// tested for scope membership.
func Scopable(resourceType rbac.Resource) bool {
	switch resourceType {
	case rbac.ResourceProperty, rbac.ResourceLandlord, rbac.ResourcePMC:
		return true
	default:
		return NeedsLocation(resourceType)
	}
}

// ResolutionError reports that a scope could not be computed. It never
// carries a partial scope.
type ResolutionError struct {
	Role   rbac.Role
	UserID string
	Op     string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s scope for %s: %s: %v", e.Role, e.UserID, e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolutionError reports whether err wraps a *ResolutionError
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
