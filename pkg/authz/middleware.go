package authz

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// caller returns the identity established by the session layer
func caller(r *http.Request) (string, rbac.UserType, bool) {
	id, ok := contextkeys.GetIdentity(r.Context())
	if !ok || id.UserID == "" {
		return "", "", false
	}
	userType, err := rbac.ParseUserType(id.UserType)
	if err != nil {
		return "", "", false
	}
	return id.UserID, userType, true
}

// RequirePermission creates middleware that lets a request through only
// when the caller's role grants the permission
func RequirePermission(az Authorizer, category rbac.Category, resource rbac.Resource, action rbac.Action, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, userType, ok := caller(r)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			allowed, err := az.HasPermission(r.Context(), userID, userType, resource, action, category)
			if err != nil {
				status := StatusCode(err)
				logger.WithError(err).WithField("status", status).Warn("permission check failed")
				httputil.WriteErrorMessage(w, status, http.StatusText(status))
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccess creates middleware that checks the caller may read the
// resource named by the mux path variable
func RequireAccess(az Authorizer, resourceType rbac.Resource, pathVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, userType, ok := caller(r)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			resourceID := mux.Vars(r)[pathVar]
			if !az.CanAccess(r.Context(), userID, userType, resourceID, resourceType) {
				httputil.WriteForbidden(w, "resource not accessible")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
