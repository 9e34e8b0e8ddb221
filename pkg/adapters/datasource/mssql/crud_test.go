package mssql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
)

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "[users]", quoteIdent("users"))
	assert.Equal(t, "[weird name]", quoteIdent("weird name"))
	assert.Equal(t, "[evil]]; DROP TABLE x--]", quoteIdent("evil]; DROP TABLE x--"),
		"closing brackets must be escaped")
}

func TestBuildWhere_Empty(t *testing.T) {
	where, args := buildWhere(nil, 1)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildWhere_DeterministicOrder(t *testing.T) {
	filter := datasource.RecordFilter{"b": 2, "a": 1, "c": 3}

	where, args := buildWhere(filter, 1)
	assert.Equal(t, " WHERE [a] = @p1 AND [b] = @p2 AND [c] = @p3", where)
	assert.Equal(t, []any{1, 2, 3}, args)
}

func TestBuildWhere_ParameterOffset(t *testing.T) {
	where, args := buildWhere(datasource.RecordFilter{"id": 7}, 4)
	assert.Equal(t, " WHERE [id] = @p4", where)
	assert.Equal(t, []any{7}, args)
}

func TestSortedKeys(t *testing.T) {
	keys := sortedKeys(map[string]any{"z": 1, "a": 2, "m": 3})
	assert.Equal(t, []string{"a", "m", "z"}, keys)
}
