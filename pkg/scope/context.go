package scope

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// ScopeContext is the set of tenant-bounded entities one actor may see,
// computed for a single request. A nil or zero ScopeContext sees nothing.
type ScopeContext struct {
	role       rbac.Role
	canViewAll bool
	self       string

	// binding names the assignment the scope was resolved for
	binding string
	// expiresAt is the earliest future end of a relationship the scope
	// relies on; zero when nothing ends
	expiresAt time.Time

	pmcs       map[string]struct{}
	landlords  map[string]struct{}
	properties map[string]string // property -> landlord
	units      map[string]string // unit -> property
	leases     map[string]string // lease -> property
	workOrders map[string]string // work order -> property
}

func newContext(role rbac.Role, self string) *ScopeContext {
	return &ScopeContext{
		role:       role,
		self:       self,
		pmcs:       make(map[string]struct{}),
		landlords:  make(map[string]struct{}),
		properties: make(map[string]string),
		units:      make(map[string]string),
		leases:     make(map[string]string),
		workOrders: make(map[string]string),
	}
}

// Unrestricted returns a scope that contains everything
func Unrestricted() *ScopeContext {
	sc := newContext(rbac.RoleSuperAdmin, "")
	sc.canViewAll = true
	return sc
}

// Empty returns a scope that contains nothing
func Empty(role rbac.Role, self string) *ScopeContext {
	return newContext(role, self)
}

// Role returns the role the scope was resolved for
func (s *ScopeContext) Role() rbac.Role {
	if s == nil {
		return rbac.RoleUnknown
	}
	return s.role
}

// ResolvedFor reports whether the scope was resolved for assignment a. A
// scope built by hand is bound to nothing.
func (s *ScopeContext) ResolvedFor(a *rbac.UserRoleAssignment) bool {
	return s != nil && a != nil && s.binding != "" && s.binding == bindingOf(a)
}

// ExpiresAt returns when the scope stops reflecting the directory because a
// relationship it includes ends. The zero time means never.
func (s *ScopeContext) ExpiresAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.expiresAt
}

// ExpiredAt reports whether now is at or past ExpiresAt
func (s *ScopeContext) ExpiredAt(now time.Time) bool {
	exp := s.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

func (s *ScopeContext) bind(a *rbac.UserRoleAssignment) {
	s.binding = bindingOf(a)
}

func (s *ScopeContext) noteEnd(endedAt *time.Time) {
	if endedAt == nil {
		return
	}
	if s.expiresAt.IsZero() || endedAt.Before(s.expiresAt) {
		s.expiresAt = *endedAt
	}
}

func bindingOf(a *rbac.UserRoleAssignment) string {
	return a.ID + "|" + string(a.UserType) + "|" + a.UserID + "|" + a.Role.String()
}

// CanViewAll reports whether the scope is unrestricted
func (s *ScopeContext) CanViewAll() bool {
	return s != nil && s.canViewAll
}

// IsEmpty reports whether the scope contains nothing at all
func (s *ScopeContext) IsEmpty() bool {
	if s == nil {
		return true
	}
	return !s.canViewAll && len(s.pmcs) == 0 && len(s.landlords) == 0 &&
		len(s.properties) == 0 && len(s.units) == 0 && len(s.leases) == 0 && len(s.workOrders) == 0
}

func (s *ScopeContext) HasPMC(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.pmcs[id]
	return s.canViewAll || ok
}

func (s *ScopeContext) HasLandlord(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.landlords[id]
	return s.canViewAll || ok
}

func (s *ScopeContext) HasProperty(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.properties[id]
	return s.canViewAll || ok
}

func (s *ScopeContext) HasUnit(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.units[id]
	return s.canViewAll || ok
}

func (s *ScopeContext) HasLease(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.leases[id]
	return s.canViewAll || ok
}

func (s *ScopeContext) HasWorkOrder(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.workOrders[id]
	return s.canViewAll || ok
}

// entityScoped scopes are authoritative per lease or work order rather than
// per property, so neighbours on the same property stay invisible.
func (s *ScopeContext) entityScoped() bool {
	return s.role == rbac.RoleTenant || s.role == rbac.RoleVendor
}

// Contains tests whether the concrete resource is inside the scope. loc is
// only consulted for resource types where NeedsLocation is true.
func (s *ScopeContext) Contains(resourceType rbac.Resource, id string, loc Location) bool {
	if s == nil {
		return false
	}
	if s.canViewAll {
		return true
	}

	switch resourceType {
	case rbac.ResourceProperty:
		return s.HasProperty(id)
	case rbac.ResourceLandlord:
		return s.HasLandlord(id)
	case rbac.ResourcePMC:
		return s.HasPMC(id)
	case rbac.ResourceUnit:
		if s.entityScoped() {
			return s.HasUnit(id)
		}
		return s.anyProperty(loc.PropertyIDs)
	case rbac.ResourceLease:
		if s.entityScoped() {
			return s.HasLease(id)
		}
		return s.anyProperty(loc.PropertyIDs)
	case rbac.ResourceWorkOrder:
		switch s.role {
		case rbac.RoleVendor:
			return s.HasWorkOrder(id)
		case rbac.RoleTenant:
			return loc.UnitID != "" && s.HasUnit(loc.UnitID)
		default:
			return s.anyProperty(loc.PropertyIDs)
		}
	case rbac.ResourceTenant:
		switch s.role {
		case rbac.RoleTenant:
			return id != "" && id == s.self
		case rbac.RoleVendor:
			return false
		default:
			return s.anyProperty(loc.PropertyIDs)
		}
	default:
		return false
	}
}

func (s *ScopeContext) anyProperty(ids []string) bool {
	for _, id := range ids {
		if s.HasProperty(id) {
			return true
		}
	}
	return false
}

// Narrow intersects the scope with an assignment scope. The result never
// contains anything the receiver did not. Narrowing an unrestricted scope
// with a non-empty restriction yields an empty scope; callers build a
// concrete scope first.
func (s *ScopeContext) Narrow(restriction *rbac.AssignmentScope) *ScopeContext {
	if s == nil {
		return nil
	}
	if restriction.Empty() {
		return s
	}
	if s.canViewAll {
		return Empty(s.role, s.self)
	}

	out := s.clone()

	if restriction.PMCID != "" {
		if _, ok := out.pmcs[restriction.PMCID]; !ok {
			return Empty(s.role, s.self)
		}
		out.pmcs = map[string]struct{}{restriction.PMCID: {}}
	}

	if restriction.LandlordID != "" {
		for id := range out.landlords {
			if id != restriction.LandlordID {
				delete(out.landlords, id)
			}
		}
		for prop, owner := range out.properties {
			if owner != restriction.LandlordID {
				delete(out.properties, prop)
			}
		}
	}

	if len(restriction.PropertyIDs) > 0 {
		allowed := make(map[string]struct{}, len(restriction.PropertyIDs))
		for _, id := range restriction.PropertyIDs {
			allowed[id] = struct{}{}
		}
		for prop := range out.properties {
			if _, ok := allowed[prop]; !ok {
				delete(out.properties, prop)
			}
		}
		owners := make(map[string]struct{})
		for _, owner := range out.properties {
			owners[owner] = struct{}{}
		}
		for id := range out.landlords {
			if _, ok := owners[id]; !ok {
				delete(out.landlords, id)
			}
		}
	}

	out.dropOrphans()
	return out
}

// dropOrphans removes units, leases and work orders whose property left the scope
func (s *ScopeContext) dropOrphans() {
	for _, m := range []map[string]string{s.units, s.leases, s.workOrders} {
		for id, prop := range m {
			if _, ok := s.properties[prop]; !ok {
				delete(m, id)
			}
		}
	}
}

func (s *ScopeContext) clone() *ScopeContext {
	out := newContext(s.role, s.self)
	out.canViewAll = s.canViewAll
	out.binding = s.binding
	out.expiresAt = s.expiresAt
	for k := range s.pmcs {
		out.pmcs[k] = struct{}{}
	}
	for k := range s.landlords {
		out.landlords[k] = struct{}{}
	}
	for k, v := range s.properties {
		out.properties[k] = v
	}
	for k, v := range s.units {
		out.units[k] = v
	}
	for k, v := range s.leases {
		out.leases[k] = v
	}
	for k, v := range s.workOrders {
		out.workOrders[k] = v
	}
	return out
}

func (s *ScopeContext) PMCIDs() []string       { return sortedKeys(s.pmcs) }
func (s *ScopeContext) LandlordIDs() []string  { return sortedKeys(s.landlords) }
func (s *ScopeContext) PropertyIDs() []string  { return sortedMapKeys(s.properties) }
func (s *ScopeContext) UnitIDs() []string      { return sortedMapKeys(s.units) }
func (s *ScopeContext) LeaseIDs() []string     { return sortedMapKeys(s.leases) }
func (s *ScopeContext) WorkOrderIDs() []string { return sortedMapKeys(s.workOrders) }

// View is the serialized form of a ScopeContext
type View struct {
	Role         string   `json:"role"`
	CanViewAll   bool     `json:"can_view_all"`
	PMCIDs       []string `json:"pmc_ids"`
	LandlordIDs  []string `json:"landlord_ids"`
	PropertyIDs  []string `json:"property_ids"`
	UnitIDs      []string `json:"unit_ids,omitempty"`
	LeaseIDs     []string `json:"lease_ids,omitempty"`
	WorkOrderIDs []string `json:"work_order_ids,omitempty"`
}

// View returns the sorted snapshot of the scope
func (s *ScopeContext) View() View {
	if s == nil {
		return View{PMCIDs: []string{}, LandlordIDs: []string{}, PropertyIDs: []string{}}
	}
	return View{
		Role:         s.role.String(),
		CanViewAll:   s.canViewAll,
		PMCIDs:       s.PMCIDs(),
		LandlordIDs:  s.LandlordIDs(),
		PropertyIDs:  s.PropertyIDs(),
		UnitIDs:      s.UnitIDs(),
		LeaseIDs:     s.LeaseIDs(),
		WorkOrderIDs: s.WorkOrderIDs(),
	}
}

// MarshalJSON implements json.Marshaler
func (s *ScopeContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.View())
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedMapKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
