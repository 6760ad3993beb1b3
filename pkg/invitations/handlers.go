package invitations

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// Handlers serves the application review API. The acting user is always
// the caller identity; there is no way to decide on someone else's behalf.
type Handlers struct {
	workflow *Workflow
}

// NewHandlers creates handlers over workflow
func NewHandlers(workflow *Workflow) *Handlers {
	return &Handlers{workflow: workflow}
}

// RegisterRoutes registers invitation routes on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invitations/applications", h.list).Methods("GET")
	router.HandleFunc("/invitations/applications/{id}/approve", h.approve).Methods("POST")
	router.HandleFunc("/invitations/applications/{id}/reject", h.reject).Methods("POST")
}

func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (Inviter, bool) {
	id, ok := contextkeys.GetIdentity(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return Inviter{}, false
	}
	userType, err := rbac.ParseUserType(id.UserType)
	if err != nil {
		httputil.WriteUnauthorized(w, err.Error())
		return Inviter{}, false
	}
	return Inviter{UserID: id.UserID, UserType: userType}, true
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	apps, err := h.workflow.ListApplications(r.Context(), actor)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, apps)
}

func (h *Handlers) approve(w http.ResponseWriter, r *http.Request) {
	h.decideHandler(w, r, h.workflow.Approve)
}

func (h *Handlers) reject(w http.ResponseWriter, r *http.Request) {
	h.decideHandler(w, r, h.workflow.Reject)
}

type decision func(ctx context.Context, actor Inviter, applicationID string) (*Application, error)

func (h *Handlers) decideHandler(w http.ResponseWriter, r *http.Request, decide decision) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	app, err := decide(r.Context(), actor, id)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, app)
}

func writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrInvalidTransition), IsConflict(err):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("invitation workflow failed")
		httputil.WriteInternalError(w, err)
	}
}
