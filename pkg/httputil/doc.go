// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error reply has the same shape, {"error": "..."}:
//
//	httputil.WriteSuccess(w, resp)
//	httputil.WriteBadRequest(w, "unknown resource")
//	httputil.WriteForbidden(w, "insufficient permissions")
//	httputil.WriteServiceUnavailable(w, "authorization data unavailable")
//
// WriteInternalError never echoes the cause to the client; log it instead.
//
// # Request Parsing
//
//	var req CheckRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//
// ParseJSON rejects unknown fields and trailing data.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		middleware.RequestID,
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
