package rbac

import (
	"fmt"
	"strings"
)

// Category groups resources into functional areas of the platform
type Category string

const (
	CategoryTenantManagement   Category = "TENANT_MANAGEMENT"
	CategoryPropertyManagement Category = "PROPERTY_MANAGEMENT"
	CategoryLeasing            Category = "LEASING"
	CategoryFinancial          Category = "FINANCIAL"
	CategoryMaintenance        Category = "MAINTENANCE"
	CategoryUserManagement     Category = "USER_MANAGEMENT"
	CategoryAudit              Category = "AUDIT"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceTenant          Resource = "tenant"
	ResourceApplication     Resource = "application"
	ResourceInvitation      Resource = "invitation"
	ResourceProperty        Resource = "property"
	ResourceUnit            Resource = "unit"
	ResourceLease           Resource = "lease"
	ResourceDocument        Resource = "document"
	ResourcePayment         Resource = "payment"
	ResourceInvoice         Resource = "invoice"
	ResourceFinancialReport Resource = "financial_report"
	ResourceWorkOrder       Resource = "work_order"
	ResourceVendor          Resource = "vendor"
	ResourceUser            Resource = "user"
	ResourceRole            Resource = "role"
	ResourceLandlord        Resource = "landlord"
	ResourcePMC             Resource = "pmc"
	ResourceAuditLog        Resource = "audit_log"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	// ActionManage implies the four CRUD actions on the same resource.
	ActionManage Action = "MANAGE"
)

// Actions returns every action in canonical order.
func Actions() []Action {
	return []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage}
}

// ParseAction accepts any casing.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Actions() {
		if a == known {
			return a, nil
		}
	}
	return "", &ValidationError{Field: "action", Value: s, Reason: "unknown action"}
}

// Permission is a (category, resource, action) triple
type Permission struct {
	Category Category `json:"category" yaml:"category"`
	Resource Resource `json:"resource" yaml:"resource"`
	Action   Action   `json:"action" yaml:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return fmt.Sprintf("%s:%s:%s", p.Category, p.Resource, p.Action)
}

// Managed returns the MANAGE permission for the same category and resource.
func (p Permission) Managed() Permission {
	return Permission{Category: p.Category, Resource: p.Resource, Action: ActionManage}
}

// UserType identifies which user table an identity lives in
type UserType string

const (
	UserTypeAdmin    UserType = "admin"
	UserTypePMC      UserType = "pmc"
	UserTypeLandlord UserType = "landlord"
	UserTypeTenant   UserType = "tenant"
	UserTypeVendor   UserType = "vendor"
)

// UserTypes returns all user types.
func UserTypes() []UserType {
	return []UserType{UserTypeAdmin, UserTypePMC, UserTypeLandlord, UserTypeTenant, UserTypeVendor}
}

// ParseUserType validates s against the closed set of user types.
func ParseUserType(s string) (UserType, error) {
	ut := UserType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range UserTypes() {
		if ut == known {
			return ut, nil
		}
	}
	return "", &ValidationError{Field: "user_type", Value: s, Reason: "unknown user type"}
}

// Valid reports whether the user type is one of the known types.
func (u UserType) Valid() bool {
	for _, known := range UserTypes() {
		if u == known {
			return true
		}
	}
	return false
}

// AdmitsRole reports whether an identity of this type may hold the role.
func (u UserType) AdmitsRole(r Role) bool {
	switch u {
	case UserTypeAdmin:
		return r == RoleSuperAdmin
	case UserTypePMC:
		return r == RolePMCAdmin || r == RolePM
	case UserTypeLandlord:
		return r == RoleLandlord
	case UserTypeTenant:
		return r == RoleTenant
	case UserTypeVendor:
		return r == RoleVendor
	default:
		return false
	}
}
