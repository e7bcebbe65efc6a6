// Package requestctx carries request-scoped identifiers (request_id,
// tenant_id, caller_id) set by the HTTP middleware and read by the verification layers.
package requestctx

import "context"

type contextKey struct{ name string }

var (
	requestIDKey = &contextKey{"request_id"}
	tenantIDKey  = &contextKey{"tenant_id"}
	callerIDKey  = &contextKey{"caller_id"}
)

// SetRequestID stores request_id in the context.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request_id from context, or "" if not set.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// SetTenantID stores tenant_id in the context.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID returns the tenant_id from context, or "" if not set.
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

// SetCallerID stores the authenticated caller's identifier in the context.
func SetCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// CallerID returns the caller identifier from context, or "" if not set.
func CallerID(ctx context.Context) string {
	v, _ := ctx.Value(callerIDKey).(string)
	return v
}
