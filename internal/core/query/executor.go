package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	sq "github.com/Masterminds/squirrel"

	"github.com/pmr/pmr-api/internal/storage/postgres"
)

// Record is one row keyed by column name.
type Record map[string]any

type ResultEnvelope struct {
	Status     bool     `json:"status"`
	Message    string   `json:"message"`
	Data       []Record `json:"data"`
	Page       int      `json:"page"`
	PerPage    int      `json:"per_page"`
	TotalPages int      `json:"total_pages"`
	TotalItems int      `json:"total_items"`
}

const MessageListed = "Consulta exitosa"

func NewEnvelope(items []Record, page PageRequest, total int) *ResultEnvelope {
	if items == nil {
		items = []Record{}
	}
	return &ResultEnvelope{
		Status:     true,
		Message:    MessageListed,
		Data:       items,
		Page:       page.Page,
		PerPage:    page.PerPage,
		TotalPages: TotalPages(total, page.PerPage),
		TotalItems: total,
	}
}

func TotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(perPage)))
}

// Executor runs shaped queries. It only reads.
type Executor struct {
	db postgres.Querier
}

func NewExecutor(db postgres.Querier) *Executor {
	return &Executor{db: db}
}

func (e *Executor) Execute(ctx context.Context, q *Query, page PageRequest) (*ResultEnvelope, error) {
	countSQL, countArgs, err := q.CountBuilder().ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := e.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", q.Resource().Name, err)
	}

	items, err := e.Fetch(ctx, q.Table(), q.Resource().Hidden, q.SelectBuilder(page))
	if err != nil {
		return nil, err
	}

	if err := e.LoadRelations(ctx, q.Resource(), q.Schema(), items, q.Relations()); err != nil {
		return nil, err
	}

	return NewEnvelope(items, page, total), nil
}

// Fetch runs b and scans every row into a Record, decoding structured
// columns of table as JSON and removing hidden columns.
func (e *Executor) Fetch(ctx context.Context, table *TableSchema, hidden []string, b sq.SelectBuilder) ([]Record, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table.Table, err)
	}
	defer rows.Close()

	records, err := ScanRecords(rows, table)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		for _, h := range hidden {
			delete(r, h)
		}
	}
	return records, nil
}

// ScanRecords reads rows generically. Byte slices become strings, or raw
// JSON for structured columns.
func ScanRecords(rows *sql.Rows, table *TableSchema) ([]Record, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []Record{}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(Record, len(names))
		for i, name := range names {
			rec[name] = normalizeValue(table, name, values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func normalizeValue(table *TableSchema, column string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if table != nil {
		if st, known := table.ColumnType(column); known && st == Structured {
			return json.RawMessage(append([]byte(nil), b...))
		}
	}
	return string(b)
}
