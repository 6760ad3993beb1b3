package authz

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// Handlers serves the decision API
type Handlers struct {
	engine *Engine
	logger *observability.Logger
}

// NewHandlers creates new authz handlers
func NewHandlers(engine *Engine, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.Default()
	}
	return &Handlers{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes registers authz routes on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/authz/check", h.check).Methods("POST")
	router.HandleFunc("/authz/access", h.access).Methods("POST")
	router.HandleFunc("/authz/scopes", h.scopes).Methods("GET")
	router.HandleFunc("/authz/roles", h.listRoles).Methods("GET")
	router.HandleFunc("/authz/roles/check", h.checkRoles).Methods("POST")
}

// CheckRequest is the body of POST /authz/check
type CheckRequest struct {
	UserID     string `json:"user_id"`
	UserType   string `json:"user_type"`
	Category   string `json:"category,omitempty"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	ResourceID string `json:"resource_id,omitempty"`
}

// CheckResponse is the answer to a CheckRequest
type CheckResponse struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	Role      string    `json:"role,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// AccessRequest is the body of POST /authz/access
type AccessRequest struct {
	UserID       string `json:"user_id"`
	UserType     string `json:"user_type"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// RolesCheckRequest is the body of POST /authz/roles/check
type RolesCheckRequest struct {
	UserID   string   `json:"user_id"`
	UserType string   `json:"user_type"`
	Roles    []string `json:"roles"`
}

// RoleInfo describes one configured role
type RoleInfo struct {
	Role        string   `json:"role"`
	DisplayName string   `json:"display_name"`
	Inherits    []string `json:"inherits,omitempty"`
	Permissions []string `json:"permissions"`
}

// check handles POST /authz/check
func (h *Handlers) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	userType, ok := h.subject(w, r, req.UserID, req.UserType)
	if !ok {
		return
	}

	c := Check{
		UserID:     req.UserID,
		UserType:   userType,
		Category:   rbac.Category(strings.ToUpper(req.Category)),
		Resource:   rbac.Resource(strings.ToLower(req.Resource)),
		Action:     rbac.Action(strings.ToUpper(req.Action)),
		ResourceID: req.ResourceID,
	}
	if c.Category == "" {
		if category, ok := h.engine.Registry().Catalog().CategoryOf(c.Resource); ok {
			c.Category = category
		}
	}

	d, err := h.engine.Evaluate(r.Context(), c)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := CheckResponse{Allowed: d.Allowed, Reason: d.Reason, CheckedAt: d.CheckedAt}
	if d.Role.Valid() {
		resp.Role = d.Role.String()
	}
	httputil.WriteSuccess(w, resp)
}

// access handles POST /authz/access
func (h *Handlers) access(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	userType, ok := h.subject(w, r, req.UserID, req.UserType)
	if !ok {
		return
	}

	allowed := h.engine.CanAccess(r.Context(), req.UserID, userType, req.ResourceID, rbac.Resource(strings.ToLower(req.ResourceType)))
	httputil.WriteSuccess(w, map[string]bool{"allowed": allowed})
}

// scopes handles GET /authz/scopes. Without query parameters it reports
// the caller's own scope.
func (h *Handlers) scopes(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	rawType := r.URL.Query().Get("user_type")
	if userID == "" && rawType == "" {
		id, userType, ok := caller(r)
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		userID, rawType = id, string(userType)
	}

	userType, ok := h.subject(w, r, userID, rawType)
	if !ok {
		return
	}

	sc, err := h.engine.GetUserScopes(r.Context(), userID, userType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, sc.View())
}

// listRoles handles GET /authz/roles
func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := DescribeRoles(h.engine.Registry())
	httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
		"count": len(roles),
	})
}

// DescribeRoles lists every configured role with its effective permissions
// in role order
func DescribeRoles(reg *rbac.Registry) []RoleInfo {
	roles := make([]RoleInfo, 0, len(rbac.Roles()))
	for _, role := range rbac.Roles() {
		def, ok := reg.Definition(role)
		if !ok {
			continue
		}
		info := RoleInfo{Role: role.String(), DisplayName: def.DisplayName}
		for _, parent := range def.Inherits {
			info.Inherits = append(info.Inherits, parent.String())
		}
		perms := reg.DefaultPermissions(role)
		info.Permissions = make([]string, 0, len(perms))
		for _, p := range perms {
			info.Permissions = append(info.Permissions, p.String())
		}
		roles = append(roles, info)
	}
	return roles
}

// checkRoles handles POST /authz/roles/check
func (h *Handlers) checkRoles(w http.ResponseWriter, r *http.Request) {
	var req RolesCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	userType, ok := h.subject(w, r, req.UserID, req.UserType)
	if !ok {
		return
	}

	roles := make([]rbac.Role, 0, len(req.Roles))
	for _, name := range req.Roles {
		role, err := rbac.ParseRole(name)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		roles = append(roles, role)
	}

	matched, err := h.engine.CheckMultipleRoles(r.Context(), req.UserID, userType, roles...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"matched": matched})
}

// subject parses the user type of the subject a request asks about and
// checks the caller may ask. Callers may always ask about themselves;
// asking about anyone else requires user READ.
func (h *Handlers) subject(w http.ResponseWriter, r *http.Request, userID, rawType string) (rbac.UserType, bool) {
	userType, err := rbac.ParseUserType(rawType)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", false
	}
	if userID == "" {
		httputil.WriteBadRequest(w, "user_id is required")
		return "", false
	}

	callerID, callerType, ok := caller(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return "", false
	}
	if callerID == userID && callerType == userType {
		return userType, true
	}

	allowed, err := h.engine.HasPermission(r.Context(), callerID, callerType, rbac.ResourceUser, rbac.ActionRead, rbac.CategoryUserManagement)
	if err != nil {
		h.writeError(w, err)
		return "", false
	}
	if !allowed {
		httputil.WriteForbidden(w, "not permitted to query other users")
		return "", false
	}
	return userType, true
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	switch status {
	case http.StatusBadRequest:
		httputil.WriteBadRequest(w, err.Error())
	case http.StatusServiceUnavailable:
		h.logger.WithError(err).Warn("authorization backend unavailable")
		httputil.WriteServiceUnavailable(w, "authorization data unavailable")
	default:
		h.logger.WithError(err).Error("authorization request failed")
		httputil.WriteInternalError(w, err)
	}
}
