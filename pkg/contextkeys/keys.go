// Package contextkeys provides centralized context key definitions
//
// All context keys used across tenantguard are defined here so that
// producers and consumers agree on the key and the value type.
//
//	import "github.com/platinummonkey/tenantguard/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, contextkeys.Identity{UserID: "u1", UserType: "tenant"})
//	id, ok := contextkeys.GetIdentity(ctx)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains Identity
	// Set by: middleware.Identity (pkg/middleware/identity.go)
	// Required by: authz middleware, audit drain middleware
	IdentityKey Key = "identity"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail, distributed tracing
	RequestIDKey Key = "request_id"

	// RequestStartTimeKey contains request start timestamp
	// Set by: middleware.RequestID
	RequestStartTimeKey Key = "request_start_time"
)

// Identity is the authenticated actor as established by the session layer
type Identity struct {
	UserID   string
	UserType string
}

// ActorKey is the key audit entries of this actor are ordered under
func (i Identity) ActorKey() string {
	return i.UserType + ":" + i.UserID
}

// WithIdentity adds the authenticated actor to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity retrieves the authenticated actor from context
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	return id, ok && id.UserID != ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, start)
}

// GetRequestStartTime retrieves request start time from context
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return t, ok
}
