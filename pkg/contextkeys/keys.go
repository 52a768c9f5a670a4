// Package contextkeys holds the typed context keys shared between middleware and handlers.
package contextkeys

import "context"

// ContextKey is a private type so values set here cannot collide with other packages.
type ContextKey string

const (
	// RequestIDKey carries the X-Request-ID of the current request
	RequestIDKey ContextKey = "request_id"
	// UserIDKey carries the authenticated viewer's user id (empty for anonymous viewers)
	UserIDKey ContextKey = "user_id"
	// ViewerKey carries the resolved viewer identity (*viewer.Viewer)
	ViewerKey ContextKey = "viewer"
	// LoggerKey carries a request-scoped *observability.Logger
	LoggerKey ContextKey = "logger"
	// RequestStartTimeKey carries the time the request entered the middleware chain
	RequestStartTimeKey ContextKey = "request_start_time"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime interface{}) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
