package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	_ "github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource/mongodb"
	_ "github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource/mssql"
	_ "github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource/postgres"
	"github.com/dbbridge-io/dbbridge-engine/pkg/config"
	"github.com/dbbridge-io/dbbridge-engine/pkg/executor"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schemacache"
	"github.com/dbbridge-io/dbbridge-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dbbridge-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.Strings("adapters", adapterTypes()),
	)

	store, err := newStore(&cfg.Redis)
	if err != nil {
		logger.Fatal("schema store setup failed", zap.Error(err))
	}

	cache := schemacache.New(store, schemacache.Options{
		IntrospectTimeout: time.Duration(cfg.SchemaCache.IntrospectTimeoutSeconds) * time.Second,
		MaxAge:            time.Duration(cfg.SchemaCache.MaxAgeMinutes) * time.Minute,
	}, logger)

	manager := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:           cfg.Datasource.ConnectionTTLMinutes,
		PoolMaxConns:         cfg.Datasource.PoolMaxConns,
		PoolMinConns:         cfg.Datasource.PoolMinConns,
		ChangeFeedBuffer:     cfg.Listener.ChannelBuffer,
		MaxReconnectAttempts: cfg.Listener.MaxReconnectAttempts,
	}, logger)

	exec := executor.New(time.Duration(cfg.Datasource.ExecuteTimeoutSeconds)*time.Second, logger)

	service := services.NewBridgeService(
		envTenantResolver(),
		manager,
		cache,
		exec,
		loggingSink(logger),
		logger,
	)
	defer func() { _ = service.Close() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newStore picks the snapshot store: Redis when configured, in-process
// otherwise.
func newStore(cfg *config.RedisConfig) (schemacache.Store, error) {
	if cfg.Host == "" {
		return schemacache.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return schemacache.NewRedisStore(client), nil
}

// envTenantResolver resolves tenant IDs from TENANT_<ID>_DSN environment
// variables. Production deployments replace this with a control-plane
// backed resolver.
func envTenantResolver() services.TenantResolver {
	return services.TenantResolverFunc(func(_ context.Context, tenantID string) (string, error) {
		key := "TENANT_" + strings.ToUpper(strings.ReplaceAll(tenantID, "-", "_")) + "_DSN"
		dsn := os.Getenv(key)
		if dsn == "" {
			return "", fmt.Errorf("no connection string configured for tenant %q", tenantID)
		}
		return dsn, nil
	})
}

// loggingSink reports schema change summaries to the application log.
func loggingSink(logger *zap.Logger) services.NotificationSink {
	return services.NotificationSinkFunc(func(_ context.Context, tenantKey string, version uint64, summary schema.ChangeSummary) {
		logger.Info("tenant schema changed",
			zap.Uint64("version", version),
			zap.Strings("added_entities", summary.AddedEntities),
			zap.Strings("removed_entities", summary.RemovedEntities),
			zap.Int("added_fields", len(summary.AddedFields)),
			zap.Int("removed_fields", len(summary.RemovedFields)),
		)
	})
}

func adapterTypes() []string {
	infos := datasource.RegisteredAdapters()
	types := make([]string, 0, len(infos))
	for _, info := range infos {
		types = append(types, info.Type)
	}
	return types
}
