package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/retry"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

const (
	DefaultConnectionTTLMinutes = 30
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultPoolMaxConns         = 10
	DefaultPoolMinConns         = 0
	DefaultChangeFeedBuffer     = 64
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes           int
	PoolMaxConns         int32
	PoolMinConns         int32
	ChangeFeedBuffer     int
	MaxReconnectAttempts int
}

// ConnectionManager owns at most one LiveConnection per descriptor across
// all tenants, with TTL-based eviction and automatic health-check recreation.
// Change events from every connection's feed are fanned into a single
// channel consumed by the service layer.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*LiveConnection // key: Descriptor.Key()
	ttl         time.Duration
	opts        AdapterOptions
	events      chan ChangeEvent
	forwarders  sync.WaitGroup
	stopped     bool
	stopChan    chan struct{}
	logger      *zap.Logger
}

// LiveConnection wraps the engine adapter for one descriptor together with
// its change feed (nil for engines without one, or when trigger setup
// degraded). Owned exclusively by the manager.
type LiveConnection struct {
	descriptor Descriptor
	adapter    EngineAdapter
	feed       ChangeFeed
	lastUsed   time.Time
	mu         sync.Mutex // guards lastUsed
}

// Descriptor returns the descriptor this connection serves.
func (c *LiveConnection) Descriptor() Descriptor { return c.descriptor }

// Adapter returns the engine adapter. The handle is shared; callers must not
// close it.
func (c *LiveConnection) Adapter() EngineAdapter { return c.adapter }

// HasChangeFeed reports whether live change detection is active for this
// connection.
func (c *LiveConnection) HasChangeFeed() bool { return c.feed != nil }

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns < 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}
	if cfg.ChangeFeedBuffer <= 0 {
		cfg.ChangeFeedBuffer = DefaultChangeFeedBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &ConnectionManager{
		connections: make(map[string]*LiveConnection),
		ttl:         time.Duration(cfg.TTLMinutes) * time.Minute,
		opts: AdapterOptions{
			PoolMaxConns:         cfg.PoolMaxConns,
			PoolMinConns:         cfg.PoolMinConns,
			ChangeFeedBuffer:     cfg.ChangeFeedBuffer,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		},
		events:   make(chan ChangeEvent, cfg.ChangeFeedBuffer),
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// Events returns the fan-in channel of schema-change events from every
// active connection. Closed when the manager shuts down.
func (m *ConnectionManager) Events() <-chan ChangeEvent {
	return m.events
}

// Acquire returns the live connection for a descriptor, creating it on first
// use. Idempotent: concurrent first-access for the same descriptor results in
// exactly one underlying connection.
func (m *ConnectionManager) Acquire(ctx context.Context, desc Descriptor) (*LiveConnection, error) {
	if desc.IsZero() {
		return nil, fmt.Errorf("%w: empty descriptor", apperrors.ErrConnection)
	}
	key := desc.Key()

	// Try existing connection with read lock (fast path)
	m.mu.RLock()
	conn, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		// Health check with retry and timeout
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return conn.adapter.TestConnection(healthCtx)
		})

		if err != nil {
			// Unhealthy - log sanitized error, tear down, and recreate
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("descriptor", logging.SanitizeDescriptor(key)),
				zap.String("error", logging.SanitizeError(err)),
			)
			m.removeConnection(key)
			return m.createConnection(ctx, desc)
		}

		conn.mu.Lock()
		conn.lastUsed = time.Now()
		conn.mu.Unlock()
		return conn, nil
	}

	return m.createConnection(ctx, desc)
}

// createConnection opens a new live connection.
// Caller must NOT hold any locks (this method acquires the write lock).
func (m *ConnectionManager) createConnection(ctx context.Context, desc Descriptor) (*LiveConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := desc.Key()

	// Double-check after acquiring write lock (another goroutine may have created it)
	if conn, exists := m.connections[key]; exists && conn != nil {
		conn.mu.Lock()
		conn.lastUsed = time.Now()
		conn.mu.Unlock()
		return conn, nil
	}

	if m.stopped {
		return nil, fmt.Errorf("%w: connection manager is closed", apperrors.ErrConnection)
	}

	factory := GetFactory(desc.Type())
	if factory == nil {
		return nil, fmt.Errorf("%w: unsupported datasource type %q (not compiled in)", apperrors.ErrConnection, desc.Type())
	}

	adapter, err := factory(ctx, desc, m.opts, m.logger)
	if err != nil {
		m.logger.Error("failed to open connection",
			zap.String("descriptor", logging.SanitizeDescriptor(key)),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("%w: open %s connection: %s", apperrors.ErrConnection, desc.Type(), logging.SanitizeError(err))
	}

	conn := &LiveConnection{
		descriptor: desc,
		adapter:    adapter,
		lastUsed:   time.Now(),
	}

	// Wire the change feed if the engine provides one. An absent feed is a
	// degraded capability, not a failure: the cache's max-age refresh covers it.
	if provider, ok := adapter.(ChangeFeedProvider); ok {
		if feed := provider.ChangeFeed(); feed != nil {
			conn.feed = feed
			m.forwarders.Add(1)
			go m.forwardEvents(feed)
		} else if desc.Engine() == schema.EngineRelational {
			m.logger.Warn("change detection unavailable, relying on cache max-age refresh",
				zap.String("descriptor", logging.SanitizeDescriptor(key)),
			)
		}
	}

	m.connections[key] = conn

	m.logger.Info("opened tenant connection",
		zap.String("descriptor", logging.SanitizeDescriptor(key)),
		zap.String("type", desc.Type()),
		zap.Bool("changeFeed", conn.feed != nil),
		zap.Int("totalConnections", len(m.connections)),
	)

	return conn, nil
}

// forwardEvents copies one feed's events onto the shared channel.
// Returns when the feed closes its channel. Close waits for all forwarders
// before closing the fan-in channel, so the send below cannot hit a closed
// channel even when events are still buffered ahead of the feed's close.
func (m *ConnectionManager) forwardEvents(feed ChangeFeed) {
	defer m.forwarders.Done()
	for event := range feed.Events() {
		select {
		case m.events <- event:
		case <-m.stopChan:
			return
		default:
			// Consumer is behind. Invalidation is idempotent and coalescing,
			// so dropping an event only delays convergence to the next one.
			m.logger.Warn("change event dropped, consumer not keeping up",
				zap.String("descriptor", logging.SanitizeDescriptor(event.Descriptor.Key())),
			)
		}
	}
}

// removeConnection removes a connection from the table and closes it.
// Caller must NOT hold m.mu (this method acquires the write lock).
func (m *ConnectionManager) removeConnection(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(key)
}

// closeLocked closes and deletes one connection. Caller must hold m.mu.
func (m *ConnectionManager) closeLocked(key string) {
	conn, exists := m.connections[key]
	if !exists || conn == nil {
		return
	}
	if conn.feed != nil {
		conn.feed.Close()
	}
	if err := conn.adapter.Close(); err != nil {
		m.logger.Debug("error closing connection",
			zap.String("descriptor", logging.SanitizeDescriptor(key)),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
	delete(m.connections, key)
}

// cleanupExpiredConnections runs periodically to remove idle connections.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup closes connections idle beyond the TTL.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expiredKeys []string

	for key, conn := range m.connections {
		conn.mu.Lock()
		expired := now.Sub(conn.lastUsed) > m.ttl
		conn.mu.Unlock()
		if expired {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		m.closeLocked(key)
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up idle connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all connections and stops the cleanup goroutine.
// Idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for key := range m.connections {
		m.closeLocked(key)
	}
	m.mu.Unlock()

	// Forwarders may still be draining events buffered ahead of their feed's
	// close; the fan-in channel must outlive them.
	m.forwarders.Wait()
	close(m.events)
	m.logger.Info("connection manager closed")
	return nil
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections  int            `json:"total_connections"`
	TTLMinutes        int            `json:"ttl_minutes"`
	ConnectionsByType map[string]int `json:"connections_by_type"`
	ActiveChangeFeeds int            `json:"active_change_feeds"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
}

// Stats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) Stats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalConnections:  len(m.connections),
		TTLMinutes:        int(m.ttl.Minutes()),
		ConnectionsByType: make(map[string]int),
	}

	for _, conn := range m.connections {
		stats.ConnectionsByType[conn.descriptor.Type()]++
		if conn.feed != nil {
			stats.ActiveChangeFeeds++
		}

		conn.mu.Lock()
		idleSeconds := int(now.Sub(conn.lastUsed).Seconds())
		conn.mu.Unlock()
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
	}

	return stats
}
