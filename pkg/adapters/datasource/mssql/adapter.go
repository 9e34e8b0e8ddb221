package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/retry"
)

// Adapter provides SQL Server connectivity, introspection and CRUD for one
// descriptor over a database/sql pool. SQL Server has no counterpart to the
// PostgreSQL notification channel, so the adapter offers no change feed and
// relies on the cache's max-age refresh.
type Adapter struct {
	desc   datasource.Descriptor
	db     *sql.DB
	logger *zap.Logger
}

// New opens a SQL Server adapter and verifies connectivity with retry.
func New(ctx context.Context, desc datasource.Descriptor, opts datasource.AdapterOptions, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlserver", desc.Key())
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}

	if opts.PoolMaxConns > 0 {
		db.SetMaxOpenConns(int(opts.PoolMaxConns))
	}
	if opts.PoolMinConns > 0 {
		db.SetMaxIdleConns(int(opts.PoolMinConns))
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return db.PingContext(ctx)
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to sqlserver: %w", err)
	}

	return &Adapter{
		desc:   desc,
		db:     db,
		logger: logger,
	}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlserver ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

var _ datasource.EngineAdapter = (*Adapter)(nil)
