package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

const listTablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = 'public'
	  AND table_type = 'BASE TABLE'
	ORDER BY table_name
`

// columnsQuery joins column metadata with primary-key membership and
// foreign-key targets in a single pass, ordered by ordinal position.
const columnsQuery = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable,
		pk.column_name IS NOT NULL AS is_primary_key,
		fk.column_name IS NOT NULL AS is_foreign_key,
		fk.foreign_table_name,
		fk.foreign_column_name
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT kcu.column_name, kcu.table_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
	) pk ON c.column_name = pk.column_name AND c.table_name = pk.table_name
	LEFT JOIN (
		SELECT
			kcu.column_name,
			kcu.table_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'
	) fk ON c.column_name = fk.column_name AND c.table_name = fk.table_name
	WHERE c.table_schema = 'public' AND c.table_name = $1
	ORDER BY c.ordinal_position
`

// Introspect enumerates base tables in the public schema and builds the
// canonical schema. Per-table failures are skipped with a warning; failure to
// enumerate tables at all is an introspection error.
func (a *Adapter) Introspect(ctx context.Context) (*schema.CanonicalSchema, error) {
	rows, err := a.pool.Query(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate tables: %s", apperrors.ErrIntrospection, logging.SanitizeError(err))
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan table name: %s", apperrors.ErrIntrospection, logging.SanitizeError(err))
		}
		tableNames = append(tableNames, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate tables: %s", apperrors.ErrIntrospection, logging.SanitizeError(err))
	}

	result := &schema.CanonicalSchema{
		Entities:   make(map[string]schema.EntitySchema, len(tableNames)),
		EngineKind: schema.EngineRelational,
		FetchedAt:  time.Now().UTC(),
	}

	for _, tableName := range tableNames {
		entity, err := a.introspectTable(ctx, tableName)
		if err != nil {
			a.logger.Warn("skipping table, column introspection failed",
				zap.String("table", tableName),
				zap.String("error", logging.SanitizeError(err)),
			)
			continue
		}
		result.Entities[tableName] = entity
	}

	result.Normalize()
	return result, nil
}

func (a *Adapter) introspectTable(ctx context.Context, tableName string) (schema.EntitySchema, error) {
	rows, err := a.pool.Query(ctx, columnsQuery, tableName)
	if err != nil {
		return schema.EntitySchema{}, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	entity := schema.EntitySchema{Name: tableName}

	for rows.Next() {
		var (
			field                      schema.FieldSchema
			dataType                   string
			foreignTable, foreignField *string
		)
		if err := rows.Scan(&field.Name, &dataType, &field.Nullable,
			&field.IsPrimaryKey, &field.IsForeignKey, &foreignTable, &foreignField); err != nil {
			return schema.EntitySchema{}, fmt.Errorf("scan column: %w", err)
		}

		field.DataType = schema.NormalizePostgresType(dataType)
		if field.IsForeignKey && foreignTable != nil && foreignField != nil {
			field.ForeignEntity = *foreignTable
			field.ForeignField = *foreignField
		} else {
			field.IsForeignKey = false
		}
		if field.IsPrimaryKey {
			entity.PrimaryKeys = append(entity.PrimaryKeys, field.Name)
		}

		entity.Fields = append(entity.Fields, field)
	}
	if err := rows.Err(); err != nil {
		return schema.EntitySchema{}, fmt.Errorf("iterate columns: %w", err)
	}

	return entity, nil
}
