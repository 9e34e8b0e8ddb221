package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
)

const listTablesQuery = `
	SET NOCOUNT ON;
	SELECT t.name
	FROM sys.tables t
	WHERE t.is_ms_shipped = 0
	  AND SCHEMA_NAME(t.schema_id) = 'dbo'
	ORDER BY t.name
`

// columnsQuery joins column metadata with primary-key membership and
// foreign-key targets in a single pass, ordered by column position.
const columnsQuery = `
	SET NOCOUNT ON;
	SELECT
	    c.name AS column_name,
	    tp.name AS data_type,
	    c.is_nullable,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    CASE WHEN fk.parent_column_id IS NOT NULL THEN 1 ELSE 0 END AS is_foreign_key,
	    fk.foreign_table,
	    fk.foreign_column
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	LEFT JOIN (
	    SELECT
	        fkc.parent_object_id,
	        fkc.parent_column_id,
	        OBJECT_NAME(fkc.referenced_object_id) AS foreign_table,
	        COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS foreign_column
	    FROM sys.foreign_key_columns fkc
	) fk ON c.object_id = fk.parent_object_id AND c.column_id = fk.parent_column_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME('dbo') + N'.' + QUOTENAME(@table))
	ORDER BY c.column_id
`

// Introspect enumerates user tables in the dbo schema and builds the
// canonical schema. Per-table failures are skipped with a warning; failure to
// enumerate tables at all is an introspection error.
func (a *Adapter) Introspect(ctx context.Context) (*schema.CanonicalSchema, error) {
	rows, err := a.db.QueryContext(ctx, listTablesQuery)
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
	rows, err := a.db.QueryContext(ctx, columnsQuery, sql.Named("table", tableName))
	if err != nil {
		return schema.EntitySchema{}, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	entity := schema.EntitySchema{Name: tableName}

	for rows.Next() {
		var (
			field                      schema.FieldSchema
			dataType                   string
			isPrimary, isForeign       int
			foreignTable, foreignField sql.NullString
		)
		if err := rows.Scan(&field.Name, &dataType, &field.Nullable,
			&isPrimary, &isForeign, &foreignTable, &foreignField); err != nil {
			return schema.EntitySchema{}, fmt.Errorf("scan column: %w", err)
		}

		field.DataType = schema.NormalizeSQLServerType(dataType)
		field.IsPrimaryKey = isPrimary == 1
		if isForeign == 1 && foreignTable.Valid && foreignField.Valid {
			field.IsForeignKey = true
			field.ForeignEntity = foreignTable.String
			field.ForeignField = foreignField.String
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
