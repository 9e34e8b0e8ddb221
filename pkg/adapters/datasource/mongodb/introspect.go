package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

// Introspect enumerates collections and infers each collection's structure
// from one sampled document. Inferred types and nullability are advisory.
// When the server does not permit collection enumeration the error is
// surfaced as unsupported; collection names are never guessed.
func (a *Adapter) Introspect(ctx context.Context) (*schema.CanonicalSchema, error) {
	names, err := a.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		if isUnauthorized(err) {
			return nil, fmt.Errorf("%w: collection enumeration not permitted: %s",
				apperrors.ErrUnsupported, logging.SanitizeError(err))
		}
		return nil, fmt.Errorf("%w: enumerate collections: %s",
			apperrors.ErrIntrospection, logging.SanitizeError(err))
	}
	sort.Strings(names)

	result := &schema.CanonicalSchema{
		Entities:   make(map[string]schema.EntitySchema, len(names)),
		EngineKind: schema.EngineDocument,
		FetchedAt:  time.Now().UTC(),
	}

	for _, name := range names {
		entity, err := a.introspectCollection(ctx, name)
		if err != nil {
			a.logger.Warn("skipping collection, sampling failed",
				zap.String("collection", name),
				zap.String("error", logging.SanitizeError(err)),
			)
			continue
		}
		result.Entities[name] = entity
	}

	result.Normalize()
	return result, nil
}

// introspectCollection samples one document to infer field structure. An
// empty collection yields an entity with no fields, which is still usable
// for creates.
func (a *Adapter) introspectCollection(ctx context.Context, name string) (schema.EntitySchema, error) {
	coll := a.db.Collection(name)
	entity := schema.EntitySchema{Name: name}

	count, err := coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return schema.EntitySchema{}, fmt.Errorf("estimate document count: %w", err)
	}
	entity.DocumentCount = count

	var sample map[string]any
	err = coll.FindOne(ctx, bson.D{}).Decode(&sample)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity, nil
		}
		return schema.EntitySchema{}, fmt.Errorf("sample document: %w", err)
	}
	convertBSONTypes(sample)

	fieldNames := make([]string, 0, len(sample))
	for fieldName := range sample {
		fieldNames = append(fieldNames, fieldName)
	}
	sort.Strings(fieldNames)

	for _, fieldName := range fieldNames {
		entity.Fields = append(entity.Fields, schema.FieldSchema{
			Name:     fieldName,
			DataType: schema.InferDocumentType(sample[fieldName]),
			// Document fields carry no NOT NULL constraint; absence is
			// always possible, so every inferred field is nullable.
			Nullable: true,
		})
	}

	return entity, nil
}

// isUnauthorized detects server-side permission refusals on listCollections.
func isUnauthorized(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 13 || cmdErr.Name == "Unauthorized"
	}
	return false
}
