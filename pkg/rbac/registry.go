package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is the validated, immutable role table. It is safe for
// concurrent use without synchronization.
type Registry struct {
	catalog     *Catalog
	definitions RoleTable
	grants      [roleCount]map[Permission]struct{}
	ordered     [roleCount][]Permission
}

// NewRegistry validates table against catalog and builds the lookup maps.
// Inherited permissions are flattened into each role.
func NewRegistry(catalog *Catalog, table RoleTable) (*Registry, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if err := validateTable(catalog, table); err != nil {
		return nil, err
	}

	reg := &Registry{catalog: catalog, definitions: make(RoleTable, len(table))}
	for role, def := range table {
		reg.definitions[role] = def
	}

	for _, role := range Roles() {
		perms := make(map[Permission]struct{})
		if err := reg.collect(role, perms, map[Role]bool{}); err != nil {
			return nil, err
		}
		reg.grants[role] = perms

		list := make([]Permission, 0, len(perms))
		for p := range perms {
			list = append(list, p)
		}
		sort.Slice(list, func(i, j int) bool { return catalog.less(list[i], list[j]) })
		reg.ordered[role] = list
	}
	return reg, nil
}

// MustNewRegistry builds a registry and panics on invalid configuration
func MustNewRegistry(catalog *Catalog, table RoleTable) *Registry {
	reg, err := NewRegistry(catalog, table)
	if err != nil {
		panic(fmt.Sprintf("rbac.MustNewRegistry: %v", err))
	}
	return reg
}

func validateTable(catalog *Catalog, table RoleTable) error {
	for role := range table {
		if !role.Valid() {
			return &ConfigurationError{Role: role.String(), Problem: "unknown role"}
		}
	}
	for _, role := range Roles() {
		def, ok := table[role]
		if !ok {
			return &ConfigurationError{Role: role.String(), Problem: "role has no definition"}
		}
		for _, parent := range def.Inherits {
			if !parent.Valid() {
				return &ConfigurationError{Role: role.String(), Problem: "inherits unknown role " + parent.String()}
			}
			if parent == role {
				return &ConfigurationError{Role: role.String(), Problem: "role inherits itself"}
			}
		}
		for res, actions := range def.ResourcePermissions {
			cat, ok := catalog.CategoryOf(res)
			if !ok {
				return &ConfigurationError{Role: role.String(), Problem: "unknown resource " + string(res)}
			}
			for _, action := range actions {
				if err := catalog.Validate(Permission{Category: cat, Resource: res, Action: action}); err != nil {
					return &ConfigurationError{Role: role.String(), Problem: "invalid permission", Err: err}
				}
			}
		}
	}
	return nil
}

func (reg *Registry) collect(role Role, into map[Permission]struct{}, visiting map[Role]bool) error {
	if visiting[role] {
		chain := make([]string, 0, len(visiting))
		for r := range visiting {
			chain = append(chain, r.String())
		}
		sort.Strings(chain)
		return &ConfigurationError{Role: role.String(), Problem: "inheritance cycle through " + strings.Join(chain, ", ")}
	}
	visiting[role] = true
	defer delete(visiting, role)

	def := reg.definitions[role]
	for res, actions := range def.ResourcePermissions {
		cat, _ := reg.catalog.CategoryOf(res)
		for _, action := range actions {
			into[Permission{Category: cat, Resource: res, Action: action}] = struct{}{}
		}
	}
	for _, parent := range def.Inherits {
		if err := reg.collect(parent, into, visiting); err != nil {
			return err
		}
	}
	return nil
}

// Catalog returns the catalog the registry was validated against.
func (reg *Registry) Catalog() *Catalog {
	return reg.catalog
}

// DefaultPermissions returns the ordered permission list of role. An
// unknown role is a configuration error and panics; a registry only
// exists once every valid role has been validated.
func (reg *Registry) DefaultPermissions(role Role) []Permission {
	if !role.Valid() {
		panic(&ConfigurationError{Role: role.String(), Problem: "permissions requested for unknown role"})
	}
	out := make([]Permission, len(reg.ordered[role]))
	copy(out, reg.ordered[role])
	return out
}

// Definition returns the role definition as configured, before flattening.
func (reg *Registry) Definition(role Role) (RoleDefinition, bool) {
	def, ok := reg.definitions[role]
	return def, ok
}

// RoleExists reports whether name is a configured role.
func (reg *Registry) RoleExists(name string) bool {
	role, err := ParseRole(name)
	if err != nil {
		return false
	}
	_, ok := reg.definitions[role]
	return ok
}

// Allows reports whether role holds p, either directly or through MANAGE
// on the same category and resource.
func (reg *Registry) Allows(role Role, p Permission) bool {
	if !role.Valid() {
		return false
	}
	grants := reg.grants[role]
	if _, ok := grants[p]; ok {
		return true
	}
	if p.Action == ActionManage {
		return false
	}
	_, ok := grants[p.Managed()]
	return ok
}
