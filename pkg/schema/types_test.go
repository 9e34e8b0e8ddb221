package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePostgresType(t *testing.T) {
	assert.Equal(t, TypeInteger, NormalizePostgresType("integer"))
	assert.Equal(t, TypeBigint, NormalizePostgresType("bigint"))
	assert.Equal(t, TypeText, NormalizePostgresType("character varying"))
	assert.Equal(t, TypeTimestamp, NormalizePostgresType("timestamp with time zone"))
	assert.Equal(t, TypeJSON, NormalizePostgresType("jsonb"))
	assert.Equal(t, TypeUUID, NormalizePostgresType("uuid"))
	assert.Equal(t, TypeArray, NormalizePostgresType("ARRAY"))
	assert.Equal(t, TypeUnknown, NormalizePostgresType("tsvector"))
}

func TestNormalizeSQLServerType(t *testing.T) {
	assert.Equal(t, TypeInteger, NormalizeSQLServerType("int"))
	assert.Equal(t, TypeText, NormalizeSQLServerType("nvarchar"))
	assert.Equal(t, TypeBoolean, NormalizeSQLServerType("bit"))
	assert.Equal(t, TypeTimestamp, NormalizeSQLServerType("datetime2"))
	assert.Equal(t, TypeUUID, NormalizeSQLServerType("uniqueidentifier"))
	assert.Equal(t, TypeUnknown, NormalizeSQLServerType("geography"))
}

func TestInferDocumentType(t *testing.T) {
	assert.Equal(t, TypeBoolean, InferDocumentType(true))
	assert.Equal(t, TypeInteger, InferDocumentType(int32(5)))
	assert.Equal(t, TypeBigint, InferDocumentType(int64(5)))
	assert.Equal(t, TypeNumeric, InferDocumentType(3.14))
	assert.Equal(t, TypeText, InferDocumentType("hello"))
	assert.Equal(t, TypeTimestamp, InferDocumentType(time.Now()))
	assert.Equal(t, TypeJSON, InferDocumentType(map[string]any{"a": 1}))
	assert.Equal(t, TypeArray, InferDocumentType([]any{1, 2}))
	assert.Equal(t, TypeUnknown, InferDocumentType(nil))
}
