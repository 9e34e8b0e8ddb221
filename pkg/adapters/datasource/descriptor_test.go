package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

func TestNewDescriptor_SchemeInference(t *testing.T) {
	tests := []struct {
		name       string
		connString string
		wantType   string
		wantEngine schema.EngineKind
	}{
		{"postgres", "postgres://user:pw@host:5432/db", TypePostgres, schema.EngineRelational},
		{"postgresql alias", "postgresql://user:pw@host:5432/db", TypePostgres, schema.EngineRelational},
		{"sqlserver", "sqlserver://sa:pw@host:1433?database=db", TypeSQLServer, schema.EngineRelational},
		{"mongodb", "mongodb://user:pw@host:27017/db", TypeMongoDB, schema.EngineDocument},
		{"mongodb srv", "mongodb+srv://user:pw@cluster.example.net/db", TypeMongoDB, schema.EngineDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := NewDescriptor(tt.connString)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, desc.Type())
			assert.Equal(t, tt.wantEngine, desc.Engine())
			assert.False(t, desc.IsZero())
		})
	}
}

func TestNewDescriptor_Normalization(t *testing.T) {
	a, err := NewDescriptor("postgres://user:pw@host:5432/db")
	require.NoError(t, err)
	b, err := NewDescriptor("  postgres://user:pw@host:5432/db/ ")
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key(), "whitespace and trailing slash must not produce distinct keys")
}

func TestNewDescriptor_Invalid(t *testing.T) {
	_, err := NewDescriptor("")
	assert.Error(t, err)

	_, err = NewDescriptor("   ")
	assert.Error(t, err)

	_, err = NewDescriptor("host:5432/db")
	assert.Error(t, err, "missing scheme")

	_, err = NewDescriptor("mysql://user:pw@host/db")
	assert.Error(t, err, "unsupported scheme")
}

func TestDescriptor_Zero(t *testing.T) {
	var desc Descriptor
	assert.True(t, desc.IsZero())
}
