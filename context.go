package goVerify

import "context"

// DefaultTenantID scopes keys when no tenant is attached to the context.
const DefaultTenantID = "0"

type contextKey uint8

const (
	clientIPKey contextKey = iota + 1
	tenantIDKey
)

// WithClientIP attaches the caller's IP address to ctx. Per-IP throttles and
// audit events read it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// WithTenantID scopes every challenge, token and throttle key to a tenant.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string {
	return stringValue(ctx, clientIPKey)
}

func tenantIDFromContext(ctx context.Context) string {
	if id := stringValue(ctx, tenantIDKey); id != "" {
		return id
	}
	return DefaultTenantID
}

// TenantIDFromContext returns the tenant set by [WithTenantID], or
// [DefaultTenantID].
func TenantIDFromContext(ctx context.Context) string {
	return tenantIDFromContext(ctx)
}

// ClientIPFromContext returns the address set by [WithClientIP].
func ClientIPFromContext(ctx context.Context) string {
	return clientIPFromContext(ctx)
}
