package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
)

func TestToBSONFilter_ObjectIDHexOnID(t *testing.T) {
	oid := bson.NewObjectID()
	filter := toBSONFilter(datasource.RecordFilter{"_id": oid.Hex()})

	got, ok := filter["_id"].(bson.ObjectID)
	require.True(t, ok, "_id hex strings should be converted back to ObjectID")
	assert.Equal(t, oid, got)
}

func TestToBSONFilter_NonHexIDPassesThrough(t *testing.T) {
	filter := toBSONFilter(datasource.RecordFilter{"_id": "custom-key-1"})
	assert.Equal(t, "custom-key-1", filter["_id"])
}

func TestToBSONFilter_OtherFieldsUntouched(t *testing.T) {
	oidHex := bson.NewObjectID().Hex()
	filter := toBSONFilter(datasource.RecordFilter{"owner": oidHex, "count": 3})

	assert.Equal(t, oidHex, filter["owner"], "only _id gets ObjectID conversion")
	assert.Equal(t, 3, filter["count"])
}

func TestConvertBSONTypes(t *testing.T) {
	oid := bson.NewObjectID()
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	doc := map[string]any{
		"_id":     oid,
		"created": bson.DateTime(when.UnixMilli()),
		"price":   bson.Decimal128{},
		"tags":    bson.A{"a", "b"},
		"nested": bson.D{
			{Key: "inner", Value: oid},
		},
	}

	convertBSONTypes(doc)

	assert.Equal(t, oid.Hex(), doc["_id"])
	assert.Equal(t, when.Format(time.RFC3339), doc["created"])
	assert.IsType(t, "", doc["price"])
	assert.Equal(t, []any{"a", "b"}, doc["tags"])

	nested, ok := doc["nested"].(map[string]any)
	require.True(t, ok, "bson.D should flatten to a plain map")
	assert.Equal(t, oid.Hex(), nested["inner"])
}

func TestDatabaseFromURI(t *testing.T) {
	db, err := databaseFromURI("mongodb://user:pw@host:27017/tenant42?authSource=admin")
	require.NoError(t, err)
	assert.Equal(t, "tenant42", db)

	_, err = databaseFromURI("mongodb://user:pw@host:27017")
	assert.Error(t, err, "URI without a database path is rejected")
}
