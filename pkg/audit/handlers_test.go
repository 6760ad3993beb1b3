package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *MemoryLogger {
	store := NewMemoryLogger()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, actor := range []string{"L1", "L1", "L2"} {
		e := sampleEntry(actor, OutcomeAllowed)
		if i == 1 {
			e.Outcome = OutcomeDenied
			e.Reason = ReasonOutOfScope
		}
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Record(context.Background(), e))
	}
	return store
}

func newTestRouter(store Store) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(store).RegisterRoutes(router)
	return router
}

func TestHandlers_ListEntries(t *testing.T) {
	router := newTestRouter(seededStore(t))

	t.Run("filtered", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/audit/entries?actor_id=L1&outcome=denied", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Entries []*Entry `json:"entries"`
			Count   int      `json:"count"`
			Limit   int      `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, 100, body.Limit)
		assert.Equal(t, ReasonOutOfScope, body.Entries[0].Reason)
	})

	t.Run("time window", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/audit/entries?from=2026-03-01T12:01:00Z", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":2`)
	})

	for name, query := range map[string]string{
		"bad outcome": "outcome=maybe",
		"bad time":    "from=yesterday",
		"bad limit":   "limit=ten",
		"bad offset":  "offset=-1",
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/entries?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlers_Export(t *testing.T) {
	router := newTestRouter(seededStore(t))

	tests := []struct {
		format      string
		contentType string
		lines       int
	}{
		{"csv", "text/csv", 4},
		{"ndjson", "application/x-ndjson", 3},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export?format="+tt.format, nil))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-entries."+tt.format)
			assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), tt.lines)
		})
	}

	t.Run("json default", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export?actor_id=L2", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var entries []*Entry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, "L2", entries[0].ActorID)
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export?format=xml", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMemoryLogger_Paging(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	entries, err := store.Search(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp))

	entries, err = store.Search(ctx, Filter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Record(ctx, sampleEntry("L1", OutcomeAllowed)), ErrClosed)
}

func TestExportJSON_Empty(t *testing.T) {
	data, err := encode(nil, ExportFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
