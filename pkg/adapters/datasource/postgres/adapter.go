package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/retry"
)

// Adapter provides PostgreSQL connectivity, introspection and CRUD for one
// descriptor. It owns a pooled query handle plus, when trigger installation
// succeeds, a dedicated listener connection for change notifications.
type Adapter struct {
	desc   datasource.Descriptor
	pool   *pgxpool.Pool
	feed   *ChangeListener // nil when change detection is degraded
	logger *zap.Logger
}

// New opens a PostgreSQL adapter. The query pool is created with retry for
// transient failures. Listener setup failure does not fail the adapter: the
// connection is still returned with change detection disabled.
func New(ctx context.Context, desc datasource.Descriptor, opts datasource.AdapterOptions, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(desc.Key())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if opts.PoolMaxConns > 0 {
		poolConfig.MaxConns = opts.PoolMaxConns
	}
	if opts.PoolMinConns > 0 {
		poolConfig.MinConns = opts.PoolMinConns
	}

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	a := &Adapter{
		desc:   desc,
		pool:   pool,
		logger: logger,
	}

	feed, err := newChangeListener(ctx, desc, opts, logger)
	if err != nil {
		// Degraded capability: on-demand introspection still works at every
		// cache miss, so a missing listener is a warning, not a failure.
		logger.Warn("change listener setup failed, change detection disabled",
			zap.String("descriptor", logging.SanitizeDescriptor(desc.Key())),
			zap.String("error", logging.SanitizeError(err)),
		)
	} else {
		a.feed = feed
	}

	return a, nil
}

// TestConnection verifies the database is reachable with valid credentials.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// ChangeFeed returns the listener feed, or nil when change detection is
// degraded for this connection.
func (a *Adapter) ChangeFeed() datasource.ChangeFeed {
	if a.feed == nil {
		return nil
	}
	return a.feed
}

// Close releases the query pool and stops the listener.
func (a *Adapter) Close() error {
	if a.feed != nil {
		a.feed.Close()
	}
	a.pool.Close()
	return nil
}

var (
	_ datasource.EngineAdapter      = (*Adapter)(nil)
	_ datasource.ChangeFeedProvider = (*Adapter)(nil)
)
