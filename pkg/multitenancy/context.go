// Package multitenancy carries tenant and principal identity across a
// request's context.Context so that transport handlers, middleware, and the
// dispatcher all agree on who a command is acting for without threading an
// extra parameter through every call.
package multitenancy

import (
	"context"
	"fmt"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/ids"
)

type contextKey string

const (
	tenantIDKey    contextKey = "tenant_id"
	principalIDKey contextKey = "principal_id"
)

// WithTenantID attaches a tenant to ctx.
func WithTenantID(ctx context.Context, tenant ids.TenantID) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenant)
}

// TenantID retrieves the tenant attached to ctx.
func TenantID(ctx context.Context) (ids.TenantID, error) {
	tenant, ok := ctx.Value(tenantIDKey).(ids.TenantID)
	if !ok || tenant.IsZero() {
		return ids.TenantID{}, fmt.Errorf("multitenancy: no tenant id in context")
	}
	return tenant, nil
}

// MustTenantID retrieves the tenant attached to ctx or panics. Intended for
// code paths already guarded by TenantIsolationMiddleware, where a missing
// tenant indicates a programming error rather than a request to handle.
func MustTenantID(ctx context.Context) ids.TenantID {
	tenant, err := TenantID(ctx)
	if err != nil {
		panic(err)
	}
	return tenant
}

// HasTenantID reports whether ctx carries a tenant.
func HasTenantID(ctx context.Context) bool {
	_, err := TenantID(ctx)
	return err == nil
}

// WithPrincipalID attaches the calling principal to ctx.
func WithPrincipalID(ctx context.Context, principal ids.PrincipalID) context.Context {
	return context.WithValue(ctx, principalIDKey, principal)
}

// PrincipalID retrieves the principal attached to ctx.
func PrincipalID(ctx context.Context) (ids.PrincipalID, error) {
	principal, ok := ctx.Value(principalIDKey).(ids.PrincipalID)
	if !ok || principal.IsZero() {
		return ids.PrincipalID{}, fmt.Errorf("multitenancy: no principal id in context")
	}
	return principal, nil
}
