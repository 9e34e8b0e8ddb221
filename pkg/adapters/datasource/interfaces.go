package datasource

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

// RecordFilter is a field→value equality map applied to reads, updates and
// deletes. Conditions are AND-ed. Field names are validated against the
// cached schema before the adapter sees them.
type RecordFilter map[string]any

// OrderField names one sort key for a read.
type OrderField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// ReadOptions bound and order a read. Zero values mean "no constraint".
type ReadOptions struct {
	Limit   int
	Offset  int
	OrderBy []OrderField
}

// UpdateResult carries the outcome of an update in engine-neutral form.
// Relational adapters return the updated records (RETURNING semantics);
// document adapters return only a modified count and leave Records nil.
type UpdateResult struct {
	Records       []map[string]any
	ModifiedCount int64
}

// CRUDAdapter executes validated CRUD operations against one engine.
// Implementations receive entity and field names that have already been
// checked against the canonical schema, but must still quote/parameterize
// everything: the engine enforces the true constraints.
type CRUDAdapter interface {
	// CreateRecord inserts one record and returns the persisted record(s)
	// including generated keys where the engine can report them.
	CreateRecord(ctx context.Context, entity string, data map[string]any) ([]map[string]any, error)

	// ReadRecords returns records matching the filter, subject to options.
	ReadRecords(ctx context.Context, entity string, filter RecordFilter, opts ReadOptions) ([]map[string]any, error)

	// UpdateRecords applies a partial record to all matches.
	UpdateRecords(ctx context.Context, entity string, filter RecordFilter, data map[string]any) (UpdateResult, error)

	// DeleteRecords removes all matches and returns the deleted count.
	DeleteRecords(ctx context.Context, entity string, filter RecordFilter) (int64, error)
}

// Introspector produces the canonical schema from a live connection.
type Introspector interface {
	// Introspect enumerates entities and their structure. Partial per-entity
	// failures are skipped with a warning; total enumeration failure returns
	// an error wrapping apperrors.ErrIntrospection.
	Introspect(ctx context.Context) (*schema.CanonicalSchema, error)
}

// EngineAdapter is what a LiveConnection owns for one tenant database:
// connectivity checks, introspection and CRUD over a single pooled handle.
// Each implementation owns its connection and must be closed when done.
type EngineAdapter interface {
	Introspector
	CRUDAdapter

	// TestConnection verifies the database is reachable with valid credentials.
	TestConnection(ctx context.Context) error

	// Close releases the connection handle(s).
	Close() error
}

// ChangeEvent signals that the source database reported a schema change.
type ChangeEvent struct {
	ID         uuid.UUID
	Descriptor Descriptor
	Payload    string
	At         time.Time
}

// ChangeFeed delivers schema-change events from a source database.
// The feed owns a dedicated connection never used for query traffic.
// Events() is closed when the feed shuts down, either via Close or after
// reconnection attempts are exhausted.
type ChangeFeed interface {
	Events() <-chan ChangeEvent
	Close()
}

// ChangeFeedProvider is implemented by engine adapters that can watch the
// source database for DDL events. Adapters without this capability (document
// stores, SQL Server) rely on the cache's max-age refresh instead.
type ChangeFeedProvider interface {
	// ChangeFeed returns the adapter's feed, or nil when change detection is
	// unavailable or degraded for this connection.
	ChangeFeed() ChangeFeed
}
