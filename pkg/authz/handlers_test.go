package authz

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
)

func newTestRouter(f *fixture) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(f.engine, observability.Discard()).RegisterRoutes(router)
	return router
}

func doRequest(router http.Handler, method, path string, body interface{}, callerID, callerType string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if callerID != "" {
		req = req.WithContext(contextkeys.WithIdentity(req.Context(), contextkeys.Identity{UserID: callerID, UserType: callerType}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Check(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	t.Run("self check with target", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/authz/check", CheckRequest{
			UserID: "PA1", UserType: "pmc", Resource: "property", Action: "update", ResourceID: "PR9",
		}, "PA1", "pmc")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CheckResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Allowed)
		assert.Equal(t, "resource_out_of_scope", resp.Reason)
		assert.Equal(t, "pmc_admin", resp.Role)
	})

	t.Run("admin checks another user", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/authz/check", CheckRequest{
			UserID: "T1", UserType: "tenant", Category: "LEASING", Resource: "lease", Action: "READ",
		}, "A1", "admin")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"allowed":true`)
	})

	t.Run("tenant cannot check another user", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/authz/check", CheckRequest{
			UserID: "T2", UserType: "tenant", Resource: "lease", Action: "READ",
		}, "T1", "tenant")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown resource", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/authz/check", CheckRequest{
			UserID: "T1", UserType: "tenant", Resource: "spaceship", Action: "READ",
		}, "T1", "tenant")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown user type", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/authz/check", CheckRequest{
			UserID: "T1", UserType: "alien", Resource: "lease", Action: "READ",
		}, "T1", "tenant")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/authz/check", CheckRequest{
			UserID: "T1", UserType: "tenant", Resource: "lease", Action: "READ",
		}, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandlers_CheckUnavailable(t *testing.T) {
	f := newFixture(t)
	f.engine = NewEngine(f.engine.Registry(), f.store, failingResolver{}, WithLocator(f.store), WithLogger(observability.Discard()))
	router := newTestRouter(f)

	rec := doRequest(router, http.MethodPost, "/authz/check", CheckRequest{
		UserID: "L1", UserType: "landlord", Resource: "property", Action: "READ", ResourceID: "PR1",
	}, "L1", "landlord")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlers_Access(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	for _, tt := range []struct {
		id   string
		want string
	}{
		{"PR1", `"allowed":true`},
		{"PR2", `"allowed":false`},
	} {
		rec := doRequest(router, http.MethodPost, "/authz/access", AccessRequest{
			UserID: "T1", UserType: "tenant", ResourceType: "property", ResourceID: tt.id,
		}, "T1", "tenant")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), tt.want)
	}
}

func TestHandlers_Scopes(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := doRequest(router, http.MethodGet, "/authz/scopes", nil, "L1", "landlord")
	require.Equal(t, http.StatusOK, rec.Code)
	var view scope.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "landlord", view.Role)
	assert.Equal(t, []string{"PR1"}, view.PropertyIDs)
	assert.Equal(t, []string{"P1"}, view.PMCIDs)

	rec = doRequest(router, http.MethodGet, "/authz/scopes?user_id=L2&user_type=landlord", nil, "L1", "landlord")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(router, http.MethodGet, "/authz/scopes?user_id=L2&user_type=landlord", nil, "PA1", "pmc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"PR2"`)

	rec = doRequest(router, http.MethodGet, "/authz/scopes", nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_Roles(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := doRequest(router, http.MethodGet, "/authz/roles", nil, "L1", "landlord")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Roles []RoleInfo `json:"roles"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, len(rbac.Roles()), body.Count)
	for _, info := range body.Roles {
		if info.Role == "pmc_admin" {
			assert.Equal(t, []string{"pm"}, info.Inherits)
			assert.Contains(t, info.Permissions, "AUDIT:audit_log:READ")
		}
		if info.Role == "landlord" {
			assert.NotContains(t, info.Permissions, "AUDIT:audit_log:READ")
		}
	}
}

func TestHandlers_RolesCheck(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := doRequest(router, http.MethodPost, "/authz/roles/check", RolesCheckRequest{
		UserID: "PA1", UserType: "pmc", Roles: []string{"pm", "pmc_admin"},
	}, "PA1", "pmc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"matched":true`)

	rec = doRequest(router, http.MethodPost, "/authz/roles/check", RolesCheckRequest{
		UserID: "PA1", UserType: "pmc", Roles: []string{"wizard"},
	}, "PA1", "pmc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodPost, "/authz/roles/check", RolesCheckRequest{
		UserID: "PA1", UserType: "pmc",
	}, "PA1", "pmc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
