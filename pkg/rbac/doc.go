// Package rbac defines the permission catalog, the fixed platform roles
// and the validated role registry of tenantguard.
//
// # Permissions
//
// A permission is a (category, resource, action) triple. Every resource
// belongs to exactly one category:
//
//	TENANT_MANAGEMENT    tenant, application, invitation
//	PROPERTY_MANAGEMENT  property, unit
//	LEASING              lease, document
//	FINANCIAL            payment, invoice, financial_report
//	MAINTENANCE          work_order, vendor
//	USER_MANAGEMENT      user, role, landlord, pmc
//	AUDIT                audit_log
//
// Actions are CREATE, READ, UPDATE, DELETE and MANAGE. MANAGE on a
// resource implies the four others on that resource only.
//
// # Roles
//
// The roles super_admin, pmc_admin, pm, landlord, tenant and vendor are a
// closed set. Their default permissions come from a RoleTable, either the
// built-in DefaultRoleTable or a YAML file:
//
//	roles:
//	  pmc_admin:
//	    inherits: [pm]
//	    resourcePermissions:
//	      user: [MANAGE]
//	  landlord:
//	    resourcePermissions:
//	      property: [MANAGE]
//	      audit_log: []
//
// NewRegistry validates the table once at startup and flattens
// inheritance. A missing role, unknown resource or action, or an
// inheritance cycle is a *ConfigurationError; MustNewRegistry panics on it.
//
// # Assignments
//
// A UserRoleAssignment binds one role to a (user id, user type) pair and
// may carry an AssignmentScope. Scope only ever narrows access. Revoked
// assignments stay stored with IsActive false.
package rbac
