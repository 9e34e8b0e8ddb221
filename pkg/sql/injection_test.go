package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckValueForInjection_CleanValues(t *testing.T) {
	assert.Nil(t, CheckValueForInjection("customer_id", "12345"))
	assert.Nil(t, CheckValueForInjection("name", "O'Brien"))
	assert.Nil(t, CheckValueForInjection("limit", 100))
	assert.Nil(t, CheckValueForInjection("active", true))
	assert.Nil(t, CheckValueForInjection("score", 3.14))
	assert.Nil(t, CheckValueForInjection("notes", nil))
}

func TestCheckValueForInjection_DetectsInjection(t *testing.T) {
	result := CheckValueForInjection("search", "'; DROP TABLE users--")
	require.NotNil(t, result)
	assert.True(t, result.IsSQLi)
	assert.NotEmpty(t, result.Fingerprint)
	assert.Equal(t, "search", result.FieldName)
	assert.Equal(t, "'; DROP TABLE users--", result.FieldValue)
}

func TestCheckValueForInjection_UnionSelect(t *testing.T) {
	result := CheckValueForInjection("id", "1 UNION SELECT password FROM accounts")
	require.NotNil(t, result)
	assert.True(t, result.IsSQLi)
}

func TestCheckAllValues(t *testing.T) {
	values := map[string]any{
		"customer_id": "12345",
		"search":      "' OR '1'='1",
		"limit":       100,
	}

	results := CheckAllValues(values)
	require.Len(t, results, 1)
	assert.Equal(t, "search", results[0].FieldName)
}

func TestCheckAllValues_AllClean(t *testing.T) {
	results := CheckAllValues(map[string]any{"a": "hello", "b": 2})
	assert.Empty(t, results)
}
