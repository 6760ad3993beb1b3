package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
)

var (
	// ErrActiveAssignmentExists is returned by Assign when the user already
	// holds an active assignment for the user type
	ErrActiveAssignmentExists = errors.New("user already has an active role assignment")
	// ErrAssignmentNotFound is returned when no assignment matches
	ErrAssignmentNotFound = errors.New("role assignment not found")
)

// AssignmentReader reads role assignments
type AssignmentReader interface {
	ActiveAssignment(ctx context.Context, userID string, userType rbac.UserType) (*rbac.UserRoleAssignment, error)
	ListAssignments(ctx context.Context, userID string, userType rbac.UserType) ([]*rbac.UserRoleAssignment, error)
}

// AssignmentWriter manages the assignment lifecycle. Assignments are
// deactivated, never deleted.
type AssignmentWriter interface {
	Assign(ctx context.Context, a *rbac.UserRoleAssignment) error
	Revoke(ctx context.Context, assignmentID string, at time.Time) error
}

// RelationshipWriter records the data scopes are resolved from. Every
// write raises a scope.ChangeEvent.
type RelationshipWriter interface {
	PutRelationship(ctx context.Context, r scope.Relationship) error
	EndRelationship(ctx context.Context, pmcID, landlordID string, at time.Time) error
	PutProperty(ctx context.Context, p scope.Property) error
	PutUnit(ctx context.Context, unitID, propertyID string) error
	PutLease(ctx context.Context, l scope.Lease) error
	PutWorkOrder(ctx context.Context, w scope.WorkOrder) error
	PutVendorRelationship(ctx context.Context, r scope.VendorRelationship) error
}

// HealthChecker reports backend health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Store is the full storage surface used by the engine
type Store interface {
	scope.Directory
	scope.Locator
	AssignmentReader
	AssignmentWriter
	RelationshipWriter
	HealthChecker
	Close() error
}

// Config for storage backend
type Config struct {
	Driver string // "memory", "postgres", "sqlite3"
	DSN    string
	// ReplicaDSNs are read-only copies used for background invitation scans.
	// Scope and assignment reads always go to the primary.
	ReplicaDSNs []string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Timeout         time.Duration

	// Migrate creates the schema on open
	Migrate bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          "memory",
		MaxOpenConns:    20,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		Timeout:         10 * time.Second,
		Migrate:         true,
	}
}
