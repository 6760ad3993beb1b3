package rbac

import (
	"fmt"
	"strings"
)

// Role is one of the fixed platform roles.
type Role uint8

const (
	// RoleUnknown is the zero value and never valid
	RoleUnknown Role = iota
	RoleSuperAdmin
	RolePMCAdmin
	RolePM
	RoleLandlord
	RoleTenant
	RoleVendor

	roleCount
)

var roleNames = [roleCount]string{
	RoleUnknown:    "",
	RoleSuperAdmin: "super_admin",
	RolePMCAdmin:   "pmc_admin",
	RolePM:         "pm",
	RoleLandlord:   "landlord",
	RoleTenant:     "tenant",
	RoleVendor:     "vendor",
}

// Roles returns every valid role.
func Roles() []Role {
	roles := make([]Role, 0, roleCount-1)
	for r := RoleSuperAdmin; r < roleCount; r++ {
		roles = append(roles, r)
	}
	return roles
}

// String returns the wire name of the role
func (r Role) String() string {
	if r >= roleCount {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// Valid reports whether r is a known, non-zero role.
func (r Role) Valid() bool {
	return r > RoleUnknown && r < roleCount
}

// ParseRole maps a wire name to a Role.
func ParseRole(name string) (Role, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for r := RoleSuperAdmin; r < roleCount; r++ {
		if roleNames[r] == n {
			return r, nil
		}
	}
	return RoleUnknown, &ValidationError{Field: "role", Value: name, Reason: "unknown role"}
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Unrestricted reports whether the role sees every tenant when no
// assignment scope narrows it.
func (r Role) Unrestricted() bool {
	return r == RoleSuperAdmin
}

// RoleDefinition is the configured permission set of one role.
// ResourcePermissions lists actions per resource; an explicit empty list
// documents that the role has no access to that resource.
type RoleDefinition struct {
	DisplayName         string                `json:"display_name" yaml:"displayName"`
	Inherits            []Role                `json:"inherits,omitempty" yaml:"inherits"`
	ResourcePermissions map[Resource][]Action `json:"resource_permissions" yaml:"resourcePermissions"`
}

// RoleTable maps every role to its definition.
type RoleTable map[Role]RoleDefinition

var crud = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// DefaultRoleTable returns the built-in role table. Each call returns a
// fresh copy that the caller may modify before building a registry.
func DefaultRoleTable() RoleTable {
	all := make(map[Resource][]Action)
	for _, res := range DefaultCatalog().Resources() {
		all[res] = []Action{ActionManage}
	}

	return RoleTable{
		RoleSuperAdmin: {
			DisplayName:         "Super Administrator",
			ResourcePermissions: all,
		},
		RolePMCAdmin: {
			DisplayName: "PMC Administrator",
			Inherits:    []Role{RolePM},
			ResourcePermissions: map[Resource][]Action{
				ResourceUser:            {ActionManage},
				ResourceRole:            {ActionRead},
				ResourcePMC:             {ActionRead, ActionUpdate},
				ResourceFinancialReport: {ActionManage},
				ResourceVendor:          {ActionManage},
				ResourceAuditLog:        {ActionRead},
			},
		},
		RolePM: {
			DisplayName: "Property Manager",
			ResourcePermissions: map[Resource][]Action{
				ResourceTenant:          {ActionManage},
				ResourceApplication:     {ActionManage},
				ResourceInvitation:      {ActionManage},
				ResourceProperty:        crud,
				ResourceUnit:            {ActionManage},
				ResourceLease:           {ActionManage},
				ResourceDocument:        {ActionManage},
				ResourcePayment:         {ActionRead, ActionCreate},
				ResourceInvoice:         {ActionManage},
				ResourceFinancialReport: {ActionRead},
				ResourceWorkOrder:       {ActionManage},
				ResourceVendor:          {ActionRead},
				ResourceLandlord:        {ActionRead},
				ResourcePMC:             {ActionRead},
			},
		},
		RoleLandlord: {
			DisplayName: "Landlord",
			ResourcePermissions: map[Resource][]Action{
				ResourceTenant:          {ActionRead},
				ResourceApplication:     {ActionRead, ActionUpdate},
				ResourceInvitation:      {ActionCreate, ActionRead},
				ResourceProperty:        {ActionManage},
				ResourceUnit:            {ActionManage},
				ResourceLease:           {ActionRead},
				ResourceDocument:        {ActionRead, ActionCreate},
				ResourcePayment:         {ActionRead},
				ResourceInvoice:         {ActionRead},
				ResourceFinancialReport: {ActionRead},
				ResourceWorkOrder:       {ActionRead, ActionCreate},
				ResourceLandlord:        {ActionRead, ActionUpdate},
				ResourcePMC:             {ActionRead},
				ResourceAuditLog:        {},
			},
		},
		RoleTenant: {
			DisplayName: "Tenant",
			ResourcePermissions: map[Resource][]Action{
				ResourceTenant:    {ActionRead, ActionUpdate},
				ResourceProperty:  {ActionRead},
				ResourceUnit:      {ActionRead},
				ResourceLease:     {ActionRead},
				ResourceDocument:  {ActionRead},
				ResourcePayment:   {ActionRead, ActionCreate},
				ResourceInvoice:   {ActionRead},
				ResourceWorkOrder: {ActionRead, ActionCreate},
				ResourceLandlord:  {ActionRead},
			},
		},
		RoleVendor: {
			DisplayName: "Vendor",
			ResourcePermissions: map[Resource][]Action{
				ResourceWorkOrder: {ActionRead, ActionUpdate},
				ResourceProperty:  {ActionRead},
				ResourceUnit:      {ActionRead},
				ResourceInvoice:   {ActionCreate, ActionRead},
				ResourceVendor:    {ActionRead, ActionUpdate},
				ResourcePMC:       {ActionRead},
			},
		},
	}
}
