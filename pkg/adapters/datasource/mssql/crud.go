package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
)

// CreateRecord inserts one record and returns the persisted row including
// generated keys, via OUTPUT INSERTED.*.
func (a *Adapter) CreateRecord(ctx context.Context, entity string, data map[string]any) ([]map[string]any, error) {
	table := quoteIdent(entity)

	var query string
	var args []any
	if len(data) == 0 {
		query = fmt.Sprintf("INSERT INTO %s OUTPUT INSERTED.* DEFAULT VALUES", table)
	} else {
		columns := sortedKeys(data)
		quoted := make([]string, len(columns))
		placeholders := make([]string, len(columns))
		args = make([]any, len(columns))
		for i, col := range columns {
			quoted[i] = quoteIdent(col)
			placeholders[i] = fmt.Sprintf("@p%d", i+1)
			args[i] = data[col]
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.* VALUES (%s)",
			table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	}

	records, err := a.queryMaps(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: insert into %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return records, nil
}

// ReadRecords returns rows matching the equality filter, subject to options.
// Paging uses OFFSET/FETCH, which requires an ORDER BY; when the caller
// supplies none, ordering falls back to (SELECT NULL).
func (a *Adapter) ReadRecords(ctx context.Context, entity string, filter datasource.RecordFilter, opts datasource.ReadOptions) ([]map[string]any, error) {
	table := quoteIdent(entity)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", table)

	where, args := buildWhere(filter, 1)
	sb.WriteString(where)

	needsPaging := opts.Limit > 0 || opts.Offset > 0
	if len(opts.OrderBy) > 0 {
		clauses := make([]string, len(opts.OrderBy))
		for i, ord := range opts.OrderBy {
			dir := "ASC"
			if ord.Desc {
				dir = "DESC"
			}
			clauses[i] = quoteIdent(ord.Field) + " " + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(clauses, ", "))
	} else if needsPaging {
		sb.WriteString(" ORDER BY (SELECT NULL)")
	}

	if needsPaging {
		fmt.Fprintf(&sb, " OFFSET %d ROWS", opts.Offset)
		if opts.Limit > 0 {
			fmt.Fprintf(&sb, " FETCH NEXT %d ROWS ONLY", opts.Limit)
		}
	}

	records, err := a.queryMaps(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: select from %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return records, nil
}

// UpdateRecords applies a partial record to all matching rows and returns
// them via OUTPUT INSERTED.*.
func (a *Adapter) UpdateRecords(ctx context.Context, entity string, filter datasource.RecordFilter, data map[string]any) (datasource.UpdateResult, error) {
	if len(data) == 0 {
		return datasource.UpdateResult{}, fmt.Errorf("%w: update data is empty", apperrors.ErrValidation)
	}
	table := quoteIdent(entity)

	columns := sortedKeys(data)
	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(filter))
	for i, col := range columns {
		assignments[i] = fmt.Sprintf("%s = @p%d", quoteIdent(col), i+1)
		args = append(args, data[col])
	}

	where, whereArgs := buildWhere(filter, len(columns)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s OUTPUT INSERTED.*%s",
		table, strings.Join(assignments, ", "), where)

	records, err := a.queryMaps(ctx, query, args...)
	if err != nil {
		return datasource.UpdateResult{}, fmt.Errorf("%w: update %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return datasource.UpdateResult{
		Records:       records,
		ModifiedCount: int64(len(records)),
	}, nil
}

// DeleteRecords removes all matching rows and returns the deleted count.
func (a *Adapter) DeleteRecords(ctx context.Context, entity string, filter datasource.RecordFilter) (int64, error) {
	table := quoteIdent(entity)

	where, args := buildWhere(filter, 1)
	query := fmt.Sprintf("DELETE FROM %s%s", table, where)

	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return affected, nil
}

// buildWhere renders an AND-ed equality filter starting at the given
// parameter ordinal. Returns an empty string for an empty filter.
func buildWhere(filter datasource.RecordFilter, firstParam int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}

	fields := sortedKeys(filter)
	conditions := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, field := range fields {
		conditions[i] = fmt.Sprintf("%s = @p%d", quoteIdent(field), firstParam+i)
		args[i] = filter[field]
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// quoteIdent bracket-quotes an identifier, escaping closing brackets.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// queryMaps runs a query and collects rows as column→value maps.
// Byte slices are converted to strings so text columns round-trip as JSON
// strings rather than base64 blobs.
func (a *Adapter) queryMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read column names: %w", err)
	}

	records := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				record[col] = string(v)
			case sql.RawBytes:
				record[col] = string(v)
			default:
				record[col] = v
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// sortedKeys returns map keys in stable order so generated SQL is
// deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
