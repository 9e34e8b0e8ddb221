package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/executor"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schemacache"
)

func newTestService(t *testing.T, resolver TenantResolver, sink NotificationSink) BridgeService {
	t.Helper()
	logger := zaptest.NewLogger(t)

	manager := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{TTLMinutes: 5}, logger)
	cache := schemacache.New(schemacache.NewMemoryStore(), schemacache.Options{}, logger)
	exec := executor.New(5*time.Second, logger)

	svc := NewBridgeService(resolver, manager, cache, exec, sink, logger)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestBridgeService_Execute_ResolverFailure(t *testing.T) {
	boom := errors.New("tenant directory unavailable")
	svc := newTestService(t, TenantResolverFunc(func(_ context.Context, _ string) (string, error) {
		return "", boom
	}), nil)

	envelope, err := svc.Execute(context.Background(), "tenant-1", "users", "read", json.RawMessage(`{}`))
	require.ErrorIs(t, err, boom)
	assert.False(t, envelope.Success)
	assert.NotEmpty(t, envelope.Error)
}

func TestBridgeService_Execute_InvalidConnectionString(t *testing.T) {
	svc := newTestService(t, TenantResolverFunc(func(_ context.Context, _ string) (string, error) {
		return "not-a-uri", nil
	}), nil)

	envelope, err := svc.Execute(context.Background(), "tenant-1", "users", "read", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.False(t, envelope.Success)
}

func TestBridgeService_Execute_UnreachableTenant(t *testing.T) {
	// Scheme is valid but nothing is registered to serve it in this test
	// binary, which surfaces as a connection error.
	svc := newTestService(t, TenantResolverFunc(func(_ context.Context, _ string) (string, error) {
		return "sqlserver://sa:pw@localhost:1433/db", nil
	}), nil)

	envelope, err := svc.Execute(context.Background(), "tenant-1", "users", "read", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConnection)
	assert.False(t, envelope.Success)
}

func TestBridgeService_Schema_ResolverFailure(t *testing.T) {
	svc := newTestService(t, TenantResolverFunc(func(_ context.Context, tenantID string) (string, error) {
		return "", errors.New("unknown tenant " + tenantID)
	}), nil)

	_, _, err := svc.Schema(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestBridgeService_Close_Idempotent(t *testing.T) {
	svc := newTestService(t, TenantResolverFunc(func(_ context.Context, _ string) (string, error) {
		return "", errors.New("unused")
	}), nil)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestTenantResolverFunc(t *testing.T) {
	r := TenantResolverFunc(func(_ context.Context, tenantID string) (string, error) {
		return "postgres://u:p@h/" + tenantID, nil
	})
	got, err := r.Resolve(context.Background(), "db1")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h/db1", got)
}

func TestNotificationSinkFunc(t *testing.T) {
	var gotKey string
	var gotVersion uint64
	s := NotificationSinkFunc(func(_ context.Context, key string, version uint64, _ schema.ChangeSummary) {
		gotKey, gotVersion = key, version
	})
	s.Notify(context.Background(), "k", 3, schema.ChangeSummary{})
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, uint64(3), gotVersion)
}
