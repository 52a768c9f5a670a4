// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Responses are JSON encoded with goccy/go-json:
//
//	httputil.WriteCreated(w, resp)
//	httputil.WriteBadRequest(w, "profileUserId is required")
//	httputil.WriteServiceUnavailable(w, "view not recorded")
//
// Request helpers read mux path variables, query parameters and the client address:
//
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	limit, err := httputil.ParseQueryInt(r, "limit", 10)
//	ip := httputil.ClientIP(r)
//
// Middleware composes with Chain:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
