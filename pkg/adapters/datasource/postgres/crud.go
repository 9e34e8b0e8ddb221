package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
)

// CreateRecord inserts one record and returns the persisted row including
// generated keys, via RETURNING *.
func (a *Adapter) CreateRecord(ctx context.Context, entity string, data map[string]any) ([]map[string]any, error) {
	table := pgx.Identifier{entity}.Sanitize()

	var query string
	var args []any
	if len(data) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", table)
	} else {
		columns := sortedKeys(data)
		quoted := make([]string, len(columns))
		placeholders := make([]string, len(columns))
		args = make([]any, len(columns))
		for i, col := range columns {
			quoted[i] = pgx.Identifier{col}.Sanitize()
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = data[col]
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	}

	records, err := a.queryMaps(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: insert into %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return records, nil
}

// ReadRecords returns rows matching the equality filter, subject to options.
func (a *Adapter) ReadRecords(ctx context.Context, entity string, filter datasource.RecordFilter, opts datasource.ReadOptions) ([]map[string]any, error) {
	table := pgx.Identifier{entity}.Sanitize()

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", table)

	where, args := buildWhere(filter, 1)
	sb.WriteString(where)

	if len(opts.OrderBy) > 0 {
		clauses := make([]string, len(opts.OrderBy))
		for i, ord := range opts.OrderBy {
			dir := "ASC"
			if ord.Desc {
				dir = "DESC"
			}
			clauses[i] = pgx.Identifier{ord.Field}.Sanitize() + " " + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(clauses, ", "))
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", opts.Offset)
	}

	records, err := a.queryMaps(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: select from %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return records, nil
}

// UpdateRecords applies a partial record to all matching rows and returns
// them via RETURNING *.
func (a *Adapter) UpdateRecords(ctx context.Context, entity string, filter datasource.RecordFilter, data map[string]any) (datasource.UpdateResult, error) {
	if len(data) == 0 {
		return datasource.UpdateResult{}, fmt.Errorf("%w: update data is empty", apperrors.ErrValidation)
	}
	table := pgx.Identifier{entity}.Sanitize()

	columns := sortedKeys(data)
	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(filter))
	for i, col := range columns {
		assignments[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i+1)
		args = append(args, data[col])
	}

	where, whereArgs := buildWhere(filter, len(columns)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *",
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
	table := pgx.Identifier{entity}.Sanitize()

	where, args := buildWhere(filter, 1)
	query := fmt.Sprintf("DELETE FROM %s%s", table, where)

	tag, err := a.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %s", apperrors.ErrExecution, entity, logging.SanitizeError(err))
	}
	return tag.RowsAffected(), nil
}

// buildWhere renders an AND-ed equality filter starting at the given
// placeholder ordinal. Returns an empty string for an empty filter.
func buildWhere(filter datasource.RecordFilter, firstPlaceholder int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}

	fields := sortedKeys(filter)
	conditions := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, field := range fields {
		conditions[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{field}.Sanitize(), firstPlaceholder+i)
		args[i] = filter[field]
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// queryMaps runs a query and collects rows as column→value maps.
func (a *Adapter) queryMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	records := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = values[i]
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
