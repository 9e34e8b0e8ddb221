package datasource

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// AdapterInfo describes a registered adapter type for operator discovery.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "sqlserver", "mongodb"
	DisplayName string `json:"display_name"` // "PostgreSQL", "MongoDB"
	Description string `json:"description"`
}

// AdapterOptions carries engine-neutral connection settings from config.
type AdapterOptions struct {
	PoolMaxConns         int32
	PoolMinConns         int32
	ChangeFeedBuffer     int
	MaxReconnectAttempts int
}

// AdapterFactory opens an engine adapter for one descriptor.
type AdapterFactory func(ctx context.Context, desc Descriptor, opts AdapterOptions, logger *zap.Logger) (EngineAdapter, error)

// AdapterRegistration contains info + factory for one adapter type.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory AdapterFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// GetFactory returns the factory for an adapter type.
// Returns nil if the type is not registered.
func GetFactory(dsType string) AdapterFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.Factory
	}
	return nil
}

// RegisteredAdapters returns info for all registered adapter types.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	return result
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(dsType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dsType]
	return ok
}
