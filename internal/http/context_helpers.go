package httpx

import (
	"context"
	"net/http"
	"strings"
)

// TenantHeader carries the submitting tenant.
const TenantHeader = "X-Tenant-Id"

// tenantKey is an unexported context key type to avoid collisions across packages.
type tenantKey struct{}

// SetTenantInContext returns a child context that carries tenantID.
// A blank tenantID returns ctx unchanged.
func SetTenantInContext(ctx context.Context, tenantID string) context.Context {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant stored by Tenant middleware and whether one was present.
func TenantFromContext(ctx context.Context) (string, bool) {
	if t, ok := ctx.Value(tenantKey{}).(string); ok && t != "" {
		return t, true
	}
	return "", false
}

// Tenant returns a middleware that copies the X-Tenant-Id header into the request context.
func Tenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(TenantHeader); id != "" {
				r = r.WithContext(SetTenantInContext(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}
