package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
)

// CreateRecord inserts one document and returns it with its _id. An ObjectID
// is generated client-side when the payload carries no _id, so the returned
// document is complete without a round trip.
func (a *Adapter) CreateRecord(ctx context.Context, entity string, data map[string]any) ([]map[string]any, error) {
	doc := make(map[string]any, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	if _, hasID := doc["_id"]; !hasID {
		doc["_id"] = bson.NewObjectID()
	}

	if _, err := a.db.Collection(entity).InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("%w: insert into %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}

	convertBSONTypes(doc)
	return []map[string]any{doc}, nil
}

// ReadRecords returns documents matching the equality filter, subject to
// options.
func (a *Adapter) ReadRecords(ctx context.Context, entity string, filter datasource.RecordFilter, opts datasource.ReadOptions) ([]map[string]any, error) {
	findOpts := options.Find()
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if len(opts.OrderBy) > 0 {
		sortDoc := make(bson.D, 0, len(opts.OrderBy))
		for _, ord := range opts.OrderBy {
			direction := 1
			if ord.Desc {
				direction = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: ord.Field, Value: direction})
		}
		findOpts.SetSort(sortDoc)
	}

	cursor, err := a.db.Collection(entity).Find(ctx, toBSONFilter(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: find in %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	defer cursor.Close(ctx)

	records := make([]map[string]any, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("%w: decode documents from %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	for i := range records {
		convertBSONTypes(records[i])
	}
	return records, nil
}

// UpdateRecords applies a $set of the partial document to all matches.
// Only the modified count is returned; the engine does not report the
// updated documents.
func (a *Adapter) UpdateRecords(ctx context.Context, entity string, filter datasource.RecordFilter, data map[string]any) (datasource.UpdateResult, error) {
	if len(data) == 0 {
		return datasource.UpdateResult{}, fmt.Errorf("%w: update data is empty", apperrors.ErrValidation)
	}

	result, err := a.db.Collection(entity).UpdateMany(ctx, toBSONFilter(filter), bson.M{"$set": data})
	if err != nil {
		return datasource.UpdateResult{}, fmt.Errorf("%w: update %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return datasource.UpdateResult{ModifiedCount: result.ModifiedCount}, nil
}

// DeleteRecords removes all matches and returns the deleted count.
func (a *Adapter) DeleteRecords(ctx context.Context, entity string, filter datasource.RecordFilter) (int64, error) {
	result, err := a.db.Collection(entity).DeleteMany(ctx, toBSONFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return result.DeletedCount, nil
}

// toBSONFilter converts the equality filter into a BSON document. Values
// that look like ObjectID hex strings on _id are converted so lookups by the
// string form returned from reads match the stored documents.
func toBSONFilter(filter datasource.RecordFilter) bson.M {
	doc := make(bson.M, len(filter))
	for field, value := range filter {
		if field == "_id" {
			if s, ok := value.(string); ok {
				if oid, err := bson.ObjectIDFromHex(s); err == nil {
					doc[field] = oid
					continue
				}
			}
		}
		doc[field] = value
	}
	return doc
}

// convertBSONTypes rewrites BSON-specific values into plain Go types so
// documents serialize cleanly as JSON.
func convertBSONTypes(doc map[string]any) {
	for k, v := range doc {
		switch val := v.(type) {
		case bson.ObjectID:
			doc[k] = val.Hex()
		case bson.DateTime:
			doc[k] = time.Unix(0, int64(val)*int64(time.Millisecond)).UTC().Format(time.RFC3339)
		case bson.Binary:
			doc[k] = val.Data
		case bson.Decimal128:
			doc[k] = val.String()
		case bson.D:
			nested := make(map[string]any, len(val))
			for _, elem := range val {
				nested[elem.Key] = elem.Value
			}
			convertBSONTypes(nested)
			doc[k] = nested
		case bson.A:
			arr := make([]any, len(val))
			for i, item := range val {
				arr[i] = item
				if nestedDoc, ok := item.(map[string]any); ok {
					convertBSONTypes(nestedDoc)
				}
			}
			doc[k] = arr
		case map[string]any:
			convertBSONTypes(val)
		case []any:
			for i, item := range val {
				if nestedDoc, ok := item.(map[string]any); ok {
					convertBSONTypes(nestedDoc)
					val[i] = nestedDoc
				}
			}
		}
	}
}
