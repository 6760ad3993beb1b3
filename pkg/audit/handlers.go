package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

// Handlers serves the read-only audit API
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{
		store: store,
	}
}

// RegisterRoutes registers audit routes on router. Callers guard the
// router with an audit_log READ check.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/entries", h.listEntries).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEntries).Methods("GET")
}

// listEntries handles GET /audit/entries
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.limit(),
		"offset":  filter.Offset,
	})
}

// exportEntries handles GET /audit/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-entries.%s", format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// parseFilter parses a search filter from query parameters
func parseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{
		ActorID:      query.Get("actor_id"),
		ActorType:    query.Get("actor_type"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
		Operation:    Operation(query.Get("operation")),
	}

	if v := query.Get("outcome"); v != "" {
		filter.Outcome = Outcome(v)
		if !filter.Outcome.Valid() {
			return filter, fmt.Errorf("invalid outcome: %s", v)
		}
	}

	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := query.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, fmt.Errorf("invalid %s: must be RFC3339", key)
			}
			*dst = &t
		}
	}

	var err error
	if filter.Limit, err = queryInt(query.Get("limit")); err != nil {
		return filter, fmt.Errorf("invalid limit")
	}
	if filter.Offset, err = queryInt(query.Get("offset")); err != nil || filter.Offset < 0 {
		return filter, fmt.Errorf("invalid offset")
	}

	return filter, nil
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
