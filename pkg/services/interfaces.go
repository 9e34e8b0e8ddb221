package services

import (
	"context"

	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

// TenantResolver maps a caller-supplied tenant identifier to that tenant's
// database connection string. Implementations typically read a control-plane
// directory; the engine never stores tenant credentials itself.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID string) (string, error)
}

// NotificationSink receives change summaries after a schema repopulation
// that observed a structural difference. Sinks run on the cache's refresh
// path and must not block for long.
type NotificationSink interface {
	Notify(ctx context.Context, tenantKey string, version uint64, summary schema.ChangeSummary)
}

// TenantResolverFunc adapts a function to the TenantResolver interface.
type TenantResolverFunc func(ctx context.Context, tenantID string) (string, error)

func (f TenantResolverFunc) Resolve(ctx context.Context, tenantID string) (string, error) {
	return f(ctx, tenantID)
}

// NotificationSinkFunc adapts a function to the NotificationSink interface.
type NotificationSinkFunc func(ctx context.Context, tenantKey string, version uint64, summary schema.ChangeSummary)

func (f NotificationSinkFunc) Notify(ctx context.Context, tenantKey string, version uint64, summary schema.ChangeSummary) {
	f(ctx, tenantKey, version, summary)
}
