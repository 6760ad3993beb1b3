package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// Headers set by the upstream session layer
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserType  = "X-User-Type"
	HeaderRequestID = "X-Request-ID"
)

// Identity copies the caller established by the session layer into the
// request context. With optional set, requests without identity headers
// pass through anonymously; malformed headers are always rejected.
func Identity(optional bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			rawType := strings.TrimSpace(r.Header.Get(HeaderUserType))

			if userID == "" && rawType == "" {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteUnauthorized(w, "missing identity headers")
				return
			}
			if userID == "" {
				httputil.WriteUnauthorized(w, "missing "+HeaderUserID+" header")
				return
			}

			userType, err := rbac.ParseUserType(rawType)
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid "+HeaderUserType+" header")
				return
			}

			ctx := contextkeys.WithIdentity(r.Context(), contextkeys.Identity{
				UserID:   userID,
				UserType: string(userType),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity extracts the caller from the request
func GetIdentity(r *http.Request) (contextkeys.Identity, bool) {
	return contextkeys.GetIdentity(r.Context())
}

// RequestID tags each request with an id, reusing an inbound X-Request-ID
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		ctx = contextkeys.WithRequestStartTime(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
