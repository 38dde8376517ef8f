package multitenancy

import (
	"context"
	"fmt"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

// TenantIsolationMiddleware rejects any command whose TargetTenant doesn't
// match the tenant carried on ctx, so a caller can never dispatch a command
// against a tenant other than the one its own request context was scoped
// to. It requires ctx to already carry a tenant via WithTenantID.
func TenantIsolationMiddleware(next kernel.Dispatch) kernel.Dispatch {
	return func(ctx context.Context, cmd kernel.Command) ([]kernel.StoredEvent, error) {
		tenant, err := TenantID(ctx)
		if err != nil {
			return nil, fmt.Errorf("tenant isolation: %w", err)
		}
		if cmd.TargetTenant() != tenant {
			return nil, &kernel.TenantIsolationError{
				Expected: tenant.String(),
				Actual:   cmd.TargetTenant().String(),
				Detail:   "command targets a tenant other than the context's tenant",
			}
		}
		return next(ctx, cmd)
	}
}

// Authorizer checks whether a principal may act within a tenant.
type Authorizer interface {
	Authorize(ctx context.Context, principal string, tenant string) error
}

// AuthorizationMiddleware rejects a command unless ctx's principal is
// authorized for ctx's tenant, checked before the command ever reaches the
// dispatcher.
func AuthorizationMiddleware(authorizer Authorizer) func(kernel.Dispatch) kernel.Dispatch {
	return func(next kernel.Dispatch) kernel.Dispatch {
		return func(ctx context.Context, cmd kernel.Command) ([]kernel.StoredEvent, error) {
			tenant, err := TenantID(ctx)
			if err != nil {
				return nil, err
			}
			principal, err := PrincipalID(ctx)
			if err != nil {
				return nil, err
			}
			if err := authorizer.Authorize(ctx, principal.String(), tenant.String()); err != nil {
				return nil, fmt.Errorf("tenant authorization failed: %w", err)
			}
			return next(ctx, cmd)
		}
	}
}
