// Package middleware provides the HTTP middleware that sits in front of the
// authorization endpoints: caller identity, request ids and rate limiting.
//
// # Identity
//
// Authentication happens upstream. The session layer forwards the caller as
// two headers which Identity validates and stores in the request context:
//
//	X-User-ID:   L1
//	X-User-Type: landlord
//
//	router.Use(middleware.RequestID, middleware.Identity(false))
//
// # Rate Limiting
//
// RateLimitMiddleware keys identified callers by user type and id and
// anonymous callers by client address. Budgets per minute:
//
//	Anonymous: 100 + 10 burst
//	Actor:     1000 + 50 burst
//	Admin:     5000 + 100 burst
//
// NewLocalRateLimitMiddleware keeps buckets in process memory.
// NewDistributedRateLimitMiddleware shares fixed windows through Redis. On
// limiter errors requests pass through unless SetFallbackEnabled(false).
//
// # Related Packages
//
//   - pkg/contextkeys: Identity and request id context keys
//   - pkg/authz: RequirePermission reads the identity set here
package middleware
