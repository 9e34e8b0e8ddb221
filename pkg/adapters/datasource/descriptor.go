package datasource

import (
	"fmt"
	"strings"

	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

// Descriptor identifies one tenant database. It is the sole key for both the
// connection table and the schema cache. Two descriptors are equal iff their
// normalized connection strings are equal.
type Descriptor struct {
	key    string
	dsType string
	engine schema.EngineKind
}

// uriSchemes maps connection URI schemes to registered adapter types.
var uriSchemes = map[string]string{
	"postgres":    TypePostgres,
	"postgresql":  TypePostgres,
	"sqlserver":   TypeSQLServer,
	"mongodb":     TypeMongoDB,
	"mongodb+srv": TypeMongoDB,
}

// Adapter type identifiers. Each has a subpackage registering itself.
const (
	TypePostgres  = "postgres"
	TypeSQLServer = "sqlserver"
	TypeMongoDB   = "mongodb"
)

// NewDescriptor normalizes a connection string and derives the adapter type
// from its URI scheme. The descriptor is immutable once created.
func NewDescriptor(connString string) (Descriptor, error) {
	normalized := strings.TrimSpace(connString)
	normalized = strings.TrimSuffix(normalized, "/")
	if normalized == "" {
		return Descriptor{}, fmt.Errorf("connection string is empty")
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		return Descriptor{}, fmt.Errorf("connection string has no URI scheme")
	}

	dsType, ok := uriSchemes[strings.ToLower(scheme)]
	if !ok {
		return Descriptor{}, fmt.Errorf("unsupported connection scheme %q", scheme)
	}

	engine := schema.EngineRelational
	if dsType == TypeMongoDB {
		engine = schema.EngineDocument
	}

	return Descriptor{
		key:    normalized,
		dsType: dsType,
		engine: engine,
	}, nil
}

// Key returns the normalized connection string. It is the cache and pool key
// and contains credentials; sanitize before logging.
func (d Descriptor) Key() string { return d.key }

// Type returns the adapter type ("postgres", "sqlserver", "mongodb").
func (d Descriptor) Type() string { return d.dsType }

// Engine returns the engine family the adapter belongs to.
func (d Descriptor) Engine() schema.EngineKind { return d.engine }

// IsZero reports whether the descriptor is uninitialized.
func (d Descriptor) IsZero() bool { return d.key == "" }
