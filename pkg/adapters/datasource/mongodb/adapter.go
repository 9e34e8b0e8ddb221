package mongodb

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/retry"
)

const closeTimeout = 5 * time.Second

// Adapter provides MongoDB connectivity, introspection and CRUD for one
// descriptor. Schema structure is inferred from sampled documents, so it is
// advisory rather than enforced. MongoDB offers no DDL notification channel
// here, so the adapter has no change feed and relies on the cache's max-age
// refresh.
type Adapter struct {
	desc   datasource.Descriptor
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// New opens a MongoDB adapter and verifies connectivity with retry.
// The target database name is taken from the connection URI path.
func New(ctx context.Context, desc datasource.Descriptor, opts datasource.AdapterOptions, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dbName, err := databaseFromURI(desc.Key())
	if err != nil {
		return nil, err
	}

	clientOptions := options.Client().ApplyURI(desc.Key())
	if opts.PoolMaxConns > 0 {
		clientOptions.SetMaxPoolSize(uint64(opts.PoolMaxConns))
	}
	if opts.PoolMinConns > 0 {
		clientOptions.SetMinPoolSize(uint64(opts.PoolMinConns))
	}

	client, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*mongo.Client, error) {
		c, err := mongo.Connect(clientOptions)
		if err != nil {
			return nil, err
		}
		if err := c.Ping(ctx, readpref.Primary()); err != nil {
			_ = c.Disconnect(ctx)
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	return &Adapter{
		desc:   desc,
		client: client,
		db:     client.Database(dbName),
		logger: logger,
	}, nil
}

// databaseFromURI extracts the database name from the connection URI path.
func databaseFromURI(connString string) (string, error) {
	parsed, err := url.Parse(connString)
	if err != nil {
		return "", fmt.Errorf("parse connection string: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return "", fmt.Errorf("connection string has no database name in path")
	}
	return dbName, nil
}

// TestConnection verifies the deployment is reachable with valid credentials.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb ping: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (a *Adapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return a.client.Disconnect(ctx)
}

var _ datasource.EngineAdapter = (*Adapter)(nil)
