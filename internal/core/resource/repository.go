package resource

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/pmr/pmr-api/internal/core/query"
	"github.com/pmr/pmr-api/internal/storage/postgres"
)

type Repository struct {
	db *postgres.Client
}

func NewRepository(db *postgres.Client) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *postgres.Client {
	return r.db
}

// FindByID returns the row with the given key, soft-deleted rows included.
// A missing row is reported as nil, nil.
func (r *Repository) FindByID(ctx context.Context, q postgres.Querier, table *query.TableSchema, key string, id any) (query.Record, error) {
	sqlStr, args, err := sq.Select("*").
		From(postgres.QuoteIdentifier(table.Table)).
		Where(sq.Eq{postgres.QuoteIdentifier(key): id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	records, err := r.fetch(ctx, q, table, sqlStr, args)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (r *Repository) Insert(ctx context.Context, q postgres.Querier, table *query.TableSchema, data map[string]any) (query.Record, error) {
	columns, values := sortedPairs(data)
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = postgres.QuoteIdentifier(c)
	}

	sqlStr := "INSERT INTO " + postgres.QuoteIdentifier(table.Table) + " DEFAULT VALUES RETURNING *"
	var args []any
	if len(columns) > 0 {
		var err error
		sqlStr, args, err = sq.Insert(postgres.QuoteIdentifier(table.Table)).
			Columns(quoted...).
			Values(values...).
			Suffix("RETURNING *").
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return nil, err
		}
	}

	records, err := r.fetch(ctx, q, table, sqlStr, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("insert into %s returned no row", table.Table)
	}
	return records[0], nil
}

// Update writes data to the row and touches updated_at when the table has it.
// A missing row is reported as nil, nil.
func (r *Repository) Update(ctx context.Context, q postgres.Querier, table *query.TableSchema, key string, id any, data map[string]any) (query.Record, error) {
	b := sq.Update(postgres.QuoteIdentifier(table.Table)).PlaceholderFormat(sq.Dollar)

	columns, values := sortedPairs(data)
	for i, c := range columns {
		b = b.Set(postgres.QuoteIdentifier(c), values[i])
	}
	if table.Has("updated_at") {
		if _, explicit := data["updated_at"]; !explicit {
			b = b.Set(postgres.QuoteIdentifier("updated_at"), sq.Expr("NOW()"))
		}
	}

	sqlStr, args, err := b.
		Where(sq.Eq{postgres.QuoteIdentifier(key): id}).
		Suffix("RETURNING *").
		ToSql()
	if err != nil {
		return nil, err
	}

	records, err := r.fetch(ctx, q, table, sqlStr, args)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// SetDeleted sets or clears deleted_at.
func (r *Repository) SetDeleted(ctx context.Context, q postgres.Querier, table *query.TableSchema, key string, id any, deleted bool) error {
	var value any
	if deleted {
		value = sq.Expr("NOW()")
	}

	sqlStr, args, err := sq.Update(postgres.QuoteIdentifier(table.Table)).
		Set(postgres.QuoteIdentifier("deleted_at"), value).
		Where(sq.Eq{postgres.QuoteIdentifier(key): id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *Repository) Delete(ctx context.Context, q postgres.Querier, table *query.TableSchema, key string, id any) error {
	sqlStr, args, err := sq.Delete(postgres.QuoteIdentifier(table.Table)).
		Where(sq.Eq{postgres.QuoteIdentifier(key): id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *Repository) fetch(ctx context.Context, q postgres.Querier, table *query.TableSchema, sqlStr string, args []any) ([]query.Record, error) {
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return query.ScanRecords(rows, table)
}

// sortedPairs orders columns so generated statements are deterministic.
func sortedPairs(data map[string]any) ([]string, []any) {
	columns := make([]string, 0, len(data))
	for c := range data {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = data[c]
	}
	return columns, values
}
