package schema

import (
	"strings"
	"time"

	"github.com/jinzhu/inflection"
)

// EngineKind identifies which family of storage engine a schema came from.
// It determines which introspector and CRUD adapter apply; nothing outside
// adapter construction is allowed to branch on it.
type EngineKind string

const (
	EngineRelational EngineKind = "relational"
	EngineDocument   EngineKind = "document"
)

// Valid reports whether the engine kind is one of the known values.
func (k EngineKind) Valid() bool {
	return k == EngineRelational || k == EngineDocument
}

// CanonicalSchema is the engine-agnostic structural description of one
// tenant database: tables or collections, their fields and keys.
type CanonicalSchema struct {
	Entities   map[string]EntitySchema `json:"entities"`
	EngineKind EngineKind              `json:"engine_kind"`
	FetchedAt  time.Time               `json:"fetched_at"`
}

// EntitySchema describes one table or collection.
type EntitySchema struct {
	Name string `json:"name"`
	// DisplayName is a singularized, human-facing name for downstream
	// documentation and visualization consumers.
	DisplayName string        `json:"display_name"`
	Fields      []FieldSchema `json:"fields"`
	PrimaryKeys []string      `json:"primary_keys,omitempty"`
	// DocumentCount is advisory and only populated by document engines.
	DocumentCount int64 `json:"document_count,omitempty"`
}

// FieldSchema describes one column or document field.
// For document engines, type and nullability are inferred from a sampled
// document and are advisory, not enforced.
type FieldSchema struct {
	Name          string `json:"name"`
	DataType      string `json:"data_type"`
	Nullable      bool   `json:"nullable"`
	IsPrimaryKey  bool   `json:"is_primary_key"`
	IsForeignKey  bool   `json:"is_foreign_key"`
	ForeignEntity string `json:"foreign_entity,omitempty"`
	ForeignField  string `json:"foreign_field,omitempty"`
}

// Entity returns the schema for a named entity, reporting whether it exists.
func (s *CanonicalSchema) Entity(name string) (EntitySchema, bool) {
	e, ok := s.Entities[name]
	return e, ok
}

// EntityNames returns the names of all entities, unordered.
func (s *CanonicalSchema) EntityNames() []string {
	names := make([]string, 0, len(s.Entities))
	for name := range s.Entities {
		names = append(names, name)
	}
	return names
}

// HasField reports whether the entity declares a field with the given name.
func (e EntitySchema) HasField(name string) bool {
	for _, f := range e.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Normalize enforces structural invariants on a freshly introspected schema:
// foreign keys referencing entities absent from the schema are demoted to
// plain fields, and display names are derived for every entity.
// Adapters must call this before handing a schema to the cache.
func (s *CanonicalSchema) Normalize() {
	for name, entity := range s.Entities {
		for i, field := range entity.Fields {
			if field.IsForeignKey {
				if _, ok := s.Entities[field.ForeignEntity]; !ok {
					entity.Fields[i].IsForeignKey = false
					entity.Fields[i].ForeignEntity = ""
					entity.Fields[i].ForeignField = ""
				}
			}
		}
		if entity.DisplayName == "" {
			entity.DisplayName = displayName(name)
		}
		s.Entities[name] = entity
	}
}

// displayName turns "user_accounts" into "User Account".
func displayName(tableName string) string {
	singular := inflection.Singular(tableName)
	parts := strings.FieldsFunc(singular, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
