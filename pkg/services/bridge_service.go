package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/executor"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schemacache"
)

// BridgeService is the engine's front door: it resolves a tenant to a live
// connection, serves that tenant's schema from the cache, and executes CRUD
// operations through whichever engine adapter the connection carries.
type BridgeService interface {
	// Execute runs one CRUD operation for a tenant. The payload shape
	// depends on the operation kind.
	Execute(ctx context.Context, tenantID, entity, operation string, payload json.RawMessage) (executor.ResultEnvelope, error)

	// Schema returns the tenant's cached schema and its version, populating
	// the cache if needed.
	Schema(ctx context.Context, tenantID string) (*schema.CanonicalSchema, uint64, error)

	// RefreshSchema forces immediate re-introspection for a tenant.
	RefreshSchema(ctx context.Context, tenantID string) (*schema.CanonicalSchema, uint64, error)

	// Close stops event consumption and releases all tenant connections.
	Close() error
}

type bridgeService struct {
	resolver TenantResolver
	manager  *datasource.ConnectionManager
	cache    *schemacache.Cache
	exec     *executor.Executor
	sink     NotificationSink
	logger   *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewBridgeService wires the service and starts consuming change events.
// sink may be nil when no downstream consumer wants change summaries.
func NewBridgeService(
	resolver TenantResolver,
	manager *datasource.ConnectionManager,
	cache *schemacache.Cache,
	exec *executor.Executor,
	sink NotificationSink,
	logger *zap.Logger,
) BridgeService {
	s := &bridgeService{
		resolver: resolver,
		manager:  manager,
		cache:    cache,
		exec:     exec,
		sink:     sink,
		logger:   logger.Named("bridge-service"),
		done:     make(chan struct{}),
	}

	if sink != nil {
		cache.OnRefresh(func(key string, version uint64, summary schema.ChangeSummary) {
			sink.Notify(context.Background(), key, version, summary)
		})
	}

	go s.consumeChangeEvents()
	return s
}

var _ BridgeService = (*bridgeService)(nil)

func (s *bridgeService) Execute(ctx context.Context, tenantID, entity, operation string, payload json.RawMessage) (executor.ResultEnvelope, error) {
	conn, err := s.connect(ctx, tenantID)
	if err != nil {
		return failureEnvelope(err), err
	}

	sch, _, err := s.schemaFor(ctx, conn)
	if err != nil {
		return failureEnvelope(err), err
	}

	op, err := executor.DecodeOperation(operation, payload)
	if err != nil {
		return failureEnvelope(err), err
	}

	return s.exec.Execute(ctx, sch, conn.Adapter(), entity, op)
}

func (s *bridgeService) Schema(ctx context.Context, tenantID string) (*schema.CanonicalSchema, uint64, error) {
	conn, err := s.connect(ctx, tenantID)
	if err != nil {
		return nil, 0, err
	}
	return s.schemaFor(ctx, conn)
}

func (s *bridgeService) RefreshSchema(ctx context.Context, tenantID string) (*schema.CanonicalSchema, uint64, error) {
	conn, err := s.connect(ctx, tenantID)
	if err != nil {
		return nil, 0, err
	}
	return s.cache.Refresh(ctx, conn.Descriptor().Key(), conn.Adapter().Introspect)
}

// connect resolves the tenant and acquires (or reuses) its live connection.
func (s *bridgeService) connect(ctx context.Context, tenantID string) (*datasource.LiveConnection, error) {
	connString, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %q: %w", tenantID, err)
	}

	desc, err := datasource.NewDescriptor(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant %q: %v", apperrors.ErrValidation, tenantID, err)
	}

	conn, err := s.manager.Acquire(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant %q: %v", apperrors.ErrConnection, tenantID, logging.SanitizeError(err))
	}
	return conn, nil
}

func (s *bridgeService) schemaFor(ctx context.Context, conn *datasource.LiveConnection) (*schema.CanonicalSchema, uint64, error) {
	return s.cache.Get(ctx, conn.Descriptor().Key(), conn.Adapter().Introspect)
}

// consumeChangeEvents turns change events from every tenant's feed into
// cache invalidations. No introspection happens here: the next read for the
// affected tenant repopulates, so bursts of DDL coalesce into one refresh.
func (s *bridgeService) consumeChangeEvents() {
	events := s.manager.Events()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			s.cache.Invalidate(event.Descriptor.Key())
			s.logger.Debug("schema cache invalidated",
				zap.String("event_id", event.ID.String()),
				zap.String("descriptor", logging.SanitizeDescriptor(event.Descriptor.Key())),
				zap.String("ddl_tag", event.Payload),
			)
		case <-s.done:
			return
		}
	}
}

func (s *bridgeService) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		err = s.manager.Close()
	})
	return err
}

func failureEnvelope(err error) executor.ResultEnvelope {
	return executor.ResultEnvelope{
		Success: false,
		Message: "operation failed",
		Error:   logging.SanitizeError(err),
	}
}
