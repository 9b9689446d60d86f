package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keyTenantID  contextKey = "tenant_id"
	keyUserID    contextKey = "user_id"
	keyRoles     contextKey = "roles"
	keyRequestID contextKey = "request_id"
	keyChatID    contextKey = "chat_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithTenantID adds tenant ID to context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, keyTenantID, tenantID)
}

// TenantID extracts tenant ID from context.
func TenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTenantID).(string)
	return v, ok && v != ""
}

// WithUserID adds user ID to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserID extracts user ID from context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)
	return v, ok && v != ""
}

// WithRoles adds the caller's roles to context.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, keyRoles, roles)
}

// Roles extracts the caller's roles from context.
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(keyRoles).([]string)
	return v, ok && len(v) > 0
}

// WithRequestID adds the HTTP request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the HTTP request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithChatID adds chat ID to context.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, keyChatID, chatID)
}

// ChatID extracts chat ID from context.
func ChatID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyChatID).(string)
	return v, ok && v != ""
}
