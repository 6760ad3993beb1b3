// Package memory is an in-process storage backend. It is safe for
// concurrent use and loses everything on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
	"github.com/platinummonkey/tenantguard/pkg/storage"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store with maps
type Store struct {
	mu sync.RWMutex

	relationships       []scope.Relationship
	vendorRelationships []scope.VendorRelationship
	properties          map[string]scope.Property
	units               map[string]string // unit -> property
	leases              map[string]scope.Lease
	workOrders          map[string]scope.WorkOrder
	assignments         map[string]*rbac.UserRoleAssignment

	notifier scope.Notifier
}

// Option configures a Store
type Option func(*Store)

// WithNotifier sets the notifier relationship writes are reported to
func WithNotifier(n scope.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		properties:  make(map[string]scope.Property),
		units:       make(map[string]string),
		leases:      make(map[string]scope.Lease),
		workOrders:  make(map[string]scope.WorkOrder),
		assignments: make(map[string]*rbac.UserRoleAssignment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier replaces the notifier after construction
func (s *Store) SetNotifier(n scope.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

func (s *Store) notify(ctx context.Context, ev scope.ChangeEvent) {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n != nil {
		n.Notify(ctx, ev)
	}
}

// PMCRelationships implements scope.Directory
func (s *Store) PMCRelationships(ctx context.Context, pmcID string) ([]scope.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scope.Relationship
	for _, r := range s.relationships {
		if r.PMCID == pmcID {
			out = append(out, r)
		}
	}
	return out, nil
}

// LandlordRelationships implements scope.Directory
func (s *Store) LandlordRelationships(ctx context.Context, landlordID string) ([]scope.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scope.Relationship
	for _, r := range s.relationships {
		if r.LandlordID == landlordID {
			out = append(out, r)
		}
	}
	return out, nil
}

// PropertiesByLandlords implements scope.Directory
func (s *Store) PropertiesByLandlords(ctx context.Context, landlordIDs []string) ([]scope.Property, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := setOf(landlordIDs)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scope.Property
	for _, p := range s.properties {
		if want[p.LandlordID] {
			out = append(out, p)
		}
	}
	sortProperties(out)
	return out, nil
}

// PropertiesByIDs implements scope.Directory
func (s *Store) PropertiesByIDs(ctx context.Context, propertyIDs []string) ([]scope.Property, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scope.Property
	for id := range setOf(propertyIDs) {
		if p, ok := s.properties[id]; ok {
			out = append(out, p)
		}
	}
	sortProperties(out)
	return out, nil
}

// LeasesForTenant implements scope.Directory
func (s *Store) LeasesForTenant(ctx context.Context, tenantID string) ([]scope.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scope.Lease
	for _, l := range s.leases {
		if l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WorkOrdersForVendor implements scope.Directory
func (s *Store) WorkOrdersForVendor(ctx context.Context, vendorID string) ([]scope.WorkOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scope.WorkOrder
	for _, w := range s.workOrders {
		if w.VendorID == vendorID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// VendorRelationships implements scope.Directory
func (s *Store) VendorRelationships(ctx context.Context, vendorID string) ([]scope.VendorRelationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scope.VendorRelationship
	for _, r := range s.vendorRelationships {
		if r.VendorID == vendorID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Locate implements scope.Locator
func (s *Store) Locate(ctx context.Context, resourceType rbac.Resource, id string) (scope.Location, error) {
	if err := ctx.Err(); err != nil {
		return scope.Location{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch resourceType {
	case rbac.ResourceUnit:
		if prop, ok := s.units[id]; ok {
			return scope.Location{PropertyIDs: []string{prop}, UnitID: id}, nil
		}
	case rbac.ResourceLease:
		if l, ok := s.leases[id]; ok {
			return scope.Location{PropertyIDs: []string{l.PropertyID}, UnitID: l.UnitID}, nil
		}
	case rbac.ResourceWorkOrder:
		if w, ok := s.workOrders[id]; ok {
			return scope.Location{PropertyIDs: []string{w.PropertyID}, UnitID: w.UnitID}, nil
		}
	case rbac.ResourceTenant:
		props := make(map[string]struct{})
		for _, l := range s.leases {
			if l.TenantID == id && l.Active() {
				props[l.PropertyID] = struct{}{}
			}
		}
		if len(props) > 0 {
			loc := scope.Location{PropertyIDs: make([]string, 0, len(props))}
			for p := range props {
				loc.PropertyIDs = append(loc.PropertyIDs, p)
			}
			sort.Strings(loc.PropertyIDs)
			return loc, nil
		}
	}
	return scope.Location{}, scope.ErrNotFound
}

// ActiveAssignment implements storage.AssignmentReader. It returns nil when
// the user has no active assignment.
func (s *Store) ActiveAssignment(ctx context.Context, userID string, userType rbac.UserType) (*rbac.UserRoleAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assignments {
		if a.UserID == userID && a.UserType == userType && a.Effective() {
			return copyAssignment(a), nil
		}
	}
	return nil, nil
}

// ListAssignments returns every assignment of the user, oldest first
func (s *Store) ListAssignments(ctx context.Context, userID string, userType rbac.UserType) ([]*rbac.UserRoleAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*rbac.UserRoleAssignment
	for _, a := range s.assignments {
		if a.UserID == userID && a.UserType == userType {
			out = append(out, copyAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

// Assign stores a new active assignment
func (s *Store) Assign(ctx context.Context, a *rbac.UserRoleAssignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assignments {
		if existing.UserID == a.UserID && existing.UserType == a.UserType && existing.Effective() {
			return storage.ErrActiveAssignmentExists
		}
	}
	s.assignments[a.ID] = copyAssignment(a)
	return nil
}

// Revoke deactivates an assignment
func (s *Store) Revoke(ctx context.Context, assignmentID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	a, ok := s.assignments[assignmentID]
	if !ok || !a.Effective() {
		s.mu.Unlock()
		return storage.ErrAssignmentNotFound
	}
	a.IsActive = false
	revokedAt := at.UTC()
	a.RevokedAt = &revokedAt
	s.mu.Unlock()
	return nil
}

// PutRelationship inserts or replaces the PMC to landlord row
func (s *Store) PutRelationship(ctx context.Context, r scope.Relationship) error {
	s.mu.Lock()
	replaced := false
	for i, existing := range s.relationships {
		if existing.PMCID == r.PMCID && existing.LandlordID == r.LandlordID {
			s.relationships[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		s.relationships = append(s.relationships, r)
	}
	s.mu.Unlock()

	s.notify(ctx, scope.ChangeEvent{PMCID: r.PMCID, LandlordID: r.LandlordID})
	return nil
}

// EndRelationship marks the PMC to landlord relationship ended at at
func (s *Store) EndRelationship(ctx context.Context, pmcID, landlordID string, at time.Time) error {
	s.mu.Lock()
	found := false
	for i, r := range s.relationships {
		if r.PMCID == pmcID && r.LandlordID == landlordID {
			ended := at.UTC()
			s.relationships[i].EndedAt = &ended
			s.relationships[i].Status = "ended"
			found = true
		}
	}
	s.mu.Unlock()
	if !found {
		return scope.ErrNotFound
	}

	s.notify(ctx, scope.ChangeEvent{PMCID: pmcID, LandlordID: landlordID})
	return nil
}

// PutProperty inserts or replaces a property
func (s *Store) PutProperty(ctx context.Context, p scope.Property) error {
	s.mu.Lock()
	previous, existed := s.properties[p.ID]
	s.properties[p.ID] = p
	s.mu.Unlock()

	if existed && previous.LandlordID != p.LandlordID {
		s.notify(ctx, scope.ChangeEvent{LandlordID: previous.LandlordID})
	}
	s.notify(ctx, scope.ChangeEvent{LandlordID: p.LandlordID})
	return nil
}

// PutUnit inserts or replaces a unit
func (s *Store) PutUnit(ctx context.Context, unitID, propertyID string) error {
	s.mu.Lock()
	s.units[unitID] = propertyID
	s.mu.Unlock()
	return nil
}

// PutLease inserts or replaces a lease
func (s *Store) PutLease(ctx context.Context, l scope.Lease) error {
	s.mu.Lock()
	s.leases[l.ID] = l
	if l.UnitID != "" {
		if _, ok := s.units[l.UnitID]; !ok {
			s.units[l.UnitID] = l.PropertyID
		}
	}
	s.mu.Unlock()

	s.notify(ctx, scope.ChangeEvent{TenantID: l.TenantID})
	return nil
}

// PutWorkOrder inserts or replaces a work order
func (s *Store) PutWorkOrder(ctx context.Context, w scope.WorkOrder) error {
	s.mu.Lock()
	previous, existed := s.workOrders[w.ID]
	s.workOrders[w.ID] = w
	s.mu.Unlock()

	if existed && previous.VendorID != w.VendorID {
		s.notify(ctx, scope.ChangeEvent{VendorID: previous.VendorID})
	}
	s.notify(ctx, scope.ChangeEvent{VendorID: w.VendorID})
	return nil
}

// PutVendorRelationship inserts or replaces a vendor to PMC row
func (s *Store) PutVendorRelationship(ctx context.Context, r scope.VendorRelationship) error {
	s.mu.Lock()
	replaced := false
	for i, existing := range s.vendorRelationships {
		if existing.VendorID == r.VendorID && existing.PMCID == r.PMCID {
			s.vendorRelationships[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		s.vendorRelationships = append(s.vendorRelationships, r)
	}
	s.mu.Unlock()

	s.notify(ctx, scope.ChangeEvent{VendorID: r.VendorID})
	return nil
}

// HealthCheck always succeeds
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func copyAssignment(a *rbac.UserRoleAssignment) *rbac.UserRoleAssignment {
	cp := *a
	if a.Scope != nil {
		sc := *a.Scope
		sc.PropertyIDs = append([]string(nil), a.Scope.PropertyIDs...)
		cp.Scope = &sc
	}
	if a.RevokedAt != nil {
		t := *a.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

func setOf(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func sortProperties(ps []scope.Property) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}
