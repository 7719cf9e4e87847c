package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticIntrospector map[string][]Column

func (s staticIntrospector) Columns(_ context.Context, table string) ([]Column, error) {
	return s[table], nil
}

var itemsTables = staticIntrospector{
	"items": {
		{Name: "id", DataType: "bigint"},
		{Name: "name", DataType: "character varying"},
		{Name: "status", DataType: "character varying"},
		{Name: "password", DataType: "character varying"},
		{Name: "metadata", DataType: "jsonb"},
		{Name: "created_at", DataType: "timestamp with time zone"},
		{Name: "deleted_at", DataType: "timestamp with time zone"},
	},
	"tags": {
		{Name: "id", DataType: "bigint"},
		{Name: "item_id", DataType: "bigint"},
		{Name: "label", DataType: "text"},
		{Name: "created_at", DataType: "timestamp with time zone"},
	},
}

var itemsResource = &Resource{
	Name:  "items",
	Table: "items",
	Relations: []Relation{
		{Name: "tags", Kind: HasMany, Table: "tags", ForeignKey: "item_id"},
	},
	Hidden: []string{"password"},
}

func newItemsQuery(t *testing.T) *Query {
	t.Helper()
	schema, err := LoadSchema(context.Background(), itemsTables, itemsResource)
	require.NoError(t, err)
	q, err := NewQuery(itemsResource, schema)
	require.NoError(t, err)
	return q
}

func itemsTable(t *testing.T) *TableSchema {
	t.Helper()
	return newItemsQuery(t).Table()
}

func whereSQL(t *testing.T, q *Query) (string, []interface{}) {
	t.Helper()
	sql, args, err := q.CountBuilder().ToSql()
	require.NoError(t, err)
	return sql, args
}
