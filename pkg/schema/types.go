package schema

import (
	"strings"
	"time"
)

// Normalized data type names. Engine adapters map their native type names
// onto these; consumers must not assume anything finer-grained.
const (
	TypeInteger   = "integer"
	TypeBigint    = "bigint"
	TypeNumeric   = "numeric"
	TypeText      = "text"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
	TypeUUID      = "uuid"
	TypeJSON      = "json"
	TypeBinary    = "binary"
	TypeArray     = "array"
	TypeUnknown   = "unknown"
)

// NormalizePostgresType maps a PostgreSQL catalog type name to a normalized type.
func NormalizePostgresType(dataType string) string {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "int", "int2", "int4", "serial", "smallserial":
		return TypeInteger
	case "bigint", "int8", "bigserial":
		return TypeBigint
	case "numeric", "decimal", "real", "double precision", "money", "float4", "float8":
		return TypeNumeric
	case "text", "character varying", "varchar", "character", "char", "bpchar", "name", "citext":
		return TypeText
	case "boolean", "bool":
		return TypeBoolean
	case "timestamp", "timestamp without time zone", "timestamp with time zone", "timestamptz", "time", "time without time zone", "time with time zone", "timetz", "interval":
		return TypeTimestamp
	case "date":
		return TypeDate
	case "uuid":
		return TypeUUID
	case "json", "jsonb":
		return TypeJSON
	case "bytea":
		return TypeBinary
	default:
		if strings.HasPrefix(dataType, "_") || strings.EqualFold(dataType, "array") {
			return TypeArray
		}
		return TypeUnknown
	}
}

// NormalizeSQLServerType maps a SQL Server sys.types name to a normalized type.
func NormalizeSQLServerType(dataType string) string {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "int":
		return TypeInteger
	case "bigint":
		return TypeBigint
	case "decimal", "numeric", "float", "real", "money", "smallmoney":
		return TypeNumeric
	case "char", "varchar", "text", "nchar", "nvarchar", "ntext", "sysname":
		return TypeText
	case "bit":
		return TypeBoolean
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset", "time":
		return TypeTimestamp
	case "date":
		return TypeDate
	case "uniqueidentifier":
		return TypeUUID
	case "binary", "varbinary", "image":
		return TypeBinary
	default:
		return TypeUnknown
	}
}

// InferDocumentType maps a sampled BSON/JSON value to a normalized type.
// Best-effort: document fields have no declared types.
func InferDocumentType(value any) string {
	switch value.(type) {
	case nil:
		return TypeUnknown
	case bool:
		return TypeBoolean
	case int, int32:
		return TypeInteger
	case int64:
		return TypeBigint
	case float32, float64:
		return TypeNumeric
	case string:
		return TypeText
	case time.Time:
		return TypeTimestamp
	case []byte:
		return TypeBinary
	case map[string]any:
		return TypeJSON
	case []any:
		return TypeArray
	default:
		return TypeUnknown
	}
}
