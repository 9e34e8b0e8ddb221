package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/retry"
)

// NotifyChannel is the database-level channel DDL events are forwarded onto.
const NotifyChannel = "dbbridge_schema_change"

// installTriggerSQL idempotently creates an event trigger that forwards DDL
// completion events onto the notify channel. The guard plus the exception
// handler make it tolerant of concurrent creation by other processes.
const installTriggerSQL = `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_event_trigger WHERE evtname = 'dbbridge_schema_change_trigger'
	) THEN
		CREATE FUNCTION dbbridge_notify_schema_change()
		RETURNS event_trigger
		LANGUAGE plpgsql
		AS $fn$
		BEGIN
			PERFORM pg_notify('dbbridge_schema_change', TG_TAG);
		END;
		$fn$;

		CREATE EVENT TRIGGER dbbridge_schema_change_trigger
		ON ddl_command_end
		EXECUTE FUNCTION dbbridge_notify_schema_change();
	END IF;
EXCEPTION
	WHEN duplicate_object OR duplicate_function THEN
		NULL;
END
$$ LANGUAGE plpgsql;
`

// ListenerState tracks where the listener is in its lifecycle.
type ListenerState int32

const (
	StateIdle ListenerState = iota
	StateListening
	StateNotifying
	StateDegraded
	StateClosed
)

func (s ListenerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateNotifying:
		return "notifying"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChangeListener subscribes to the schema-change channel over a dedicated
// connection, never shared with query traffic. Notifications are emitted as
// ChangeEvents on an outbound channel; the listener never re-runs
// introspection itself.
type ChangeListener struct {
	desc       datasource.Descriptor
	conn       *pgx.Conn
	events     chan datasource.ChangeEvent
	maxRetries int
	logger     *zap.Logger

	mu     sync.Mutex
	state  ListenerState
	cancel context.CancelFunc
	done   chan struct{}
}

// newChangeListener opens the dedicated listener connection, installs the
// event trigger and starts the listen loop. Any setup failure is returned to
// the caller, which treats it as a degraded capability.
func newChangeListener(ctx context.Context, desc datasource.Descriptor, opts datasource.AdapterOptions, logger *zap.Logger) (*ChangeListener, error) {
	conn, err := pgx.Connect(ctx, desc.Key())
	if err != nil {
		return nil, fmt.Errorf("open listener connection: %w", err)
	}

	if _, err := conn.Exec(ctx, installTriggerSQL); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("install schema change trigger: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen on %s: %w", NotifyChannel, err)
	}

	buffer := opts.ChangeFeedBuffer
	if buffer <= 0 {
		buffer = 16
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l := &ChangeListener{
		desc:       desc,
		conn:       conn,
		events:     make(chan datasource.ChangeEvent, buffer),
		maxRetries: opts.MaxReconnectAttempts,
		logger:     logger,
		state:      StateListening,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go l.run(runCtx)
	return l, nil
}

// Events returns the outbound change-event channel. Closed when the listener
// stops, either via Close or after reconnection attempts are exhausted.
func (l *ChangeListener) Events() <-chan datasource.ChangeEvent {
	return l.events
}

// State returns the listener's current lifecycle state.
func (l *ChangeListener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *ChangeListener) setState(s ListenerState) {
	l.mu.Lock()
	if l.state != StateClosed {
		l.state = s
	}
	l.mu.Unlock()
}

// run waits for notifications until the context is canceled. On connection
// loss it reconnects with exponential backoff; once attempts are exhausted
// the listener degrades and closes its event channel.
func (l *ChangeListener) run(ctx context.Context) {
	defer close(l.done)
	defer close(l.events)

	for {
		notification, err := l.conn.WaitForNotification(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !l.reconnect(ctx) {
				l.setState(StateDegraded)
				l.logger.Error("change listener degraded, reconnection attempts exhausted",
					zap.String("descriptor", logging.SanitizeDescriptor(l.desc.Key())),
				)
				return
			}
			continue
		}

		if notification.Channel != NotifyChannel {
			continue
		}

		l.setState(StateNotifying)
		event := datasource.ChangeEvent{
			ID:         uuid.New(),
			Descriptor: l.desc,
			Payload:    notification.Payload,
			At:         time.Now().UTC(),
		}

		select {
		case l.events <- event:
		case <-ctx.Done():
			return
		default:
			// Invalidation is idempotent: dropping under backpressure only
			// delays convergence to the next event or the next cache miss.
			l.logger.Debug("change event dropped, buffer full",
				zap.String("descriptor", logging.SanitizeDescriptor(l.desc.Key())),
			)
		}
		l.setState(StateListening)
	}
}

// reconnect re-establishes the listener connection with backoff.
// Returns false when attempts are exhausted or the context is canceled.
func (l *ChangeListener) reconnect(ctx context.Context) bool {
	_ = l.conn.Close(ctx)

	cfg := retry.ListenerConfig()
	if l.maxRetries > 0 {
		cfg.MaxRetries = l.maxRetries
	}

	conn, err := retry.DoWithResult(ctx, cfg, func() (*pgx.Conn, error) {
		c, err := pgx.Connect(ctx, l.desc.Key())
		if err != nil {
			return nil, err
		}
		if _, err := c.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return false
	}

	l.logger.Info("change listener reconnected",
		zap.String("descriptor", logging.SanitizeDescriptor(l.desc.Key())),
	)
	l.conn = conn
	l.setState(StateListening)
	return true
}

// Close stops the listener and releases its connection. Idempotent.
func (l *ChangeListener) Close() {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	l.mu.Unlock()

	l.cancel()
	<-l.done

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.conn.Close(closeCtx)
}

var _ datasource.ChangeFeed = (*ChangeListener)(nil)
