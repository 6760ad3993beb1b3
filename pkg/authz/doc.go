// Package authz answers authorization questions for tenantguard.
//
// The Engine combines three inputs for every decision: the role registry
// (what a role may do), the caller's active role assignment, and a scope
// resolved from live relationship data (where the role may do it).
//
//	engine := authz.NewEngine(registry, store, scope.NewResolver(store),
//		authz.WithLocator(store),
//		authz.WithAuditLogger(auditLog),
//	)
//
//	ok, err := engine.HasPermission(ctx, "u1", rbac.UserTypeLandlord,
//		rbac.ResourceProperty, rbac.ActionUpdate, rbac.CategoryPropertyManagement)
//
// HasPermission and Evaluate separate a deny (false, nil) from a request
// that could not be decided: a malformed triple is a *rbac.ValidationError
// and a storage failure is a *LookupError or *scope.ResolutionError.
// CanAccess never returns an error; anything that prevents a decision is a
// deny.
//
// Every call produces exactly one audit entry unless the operation was left
// out with WithAuditedOperations.
//
// # HTTP
//
// Handlers exposes the engine over JSON (see RegisterRoutes) and
// RequirePermission / RequireAccess guard other routes using the identity
// placed in the request context by middleware.Identity.
package authz
