package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPageRequest_Clamp(t *testing.T) {
	cases := []struct {
		name          string
		page, perPage any
		want          PageRequest
	}{
		{"defaults", nil, nil, PageRequest{Page: 1, PerPage: 10}},
		{"page zero", 0, 20, PageRequest{Page: 1, PerPage: 20}},
		{"per page above ceiling", 2, 10000000, PageRequest{Page: 2, PerPage: 10}},
		{"page above ceiling", 10001, 5, PageRequest{Page: 1, PerPage: 5}},
		{"strings", "3", "25", PageRequest{Page: 3, PerPage: 25}},
		{"garbage", "abc", "-5", PageRequest{Page: 1, PerPage: 10}},
		{"json numbers", float64(4), float64(50), PageRequest{Page: 4, PerPage: 50}},
		{"upper bounds", 10000, 1000000, PageRequest{Page: 10000, PerPage: 1000000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NewPageRequest(tc.page, tc.perPage, DefaultPageLimits))
		})
	}
}

func TestPageRequest_Offset(t *testing.T) {
	assert.Equal(t, uint64(0), PageRequest{Page: 1, PerPage: 10}.Offset())
	assert.Equal(t, uint64(40), PageRequest{Page: 3, PerPage: 20}.Offset())
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 3, TotalPages(11, 5))
	assert.Equal(t, 2, TotalPages(10, 5))
	assert.Equal(t, 0, TotalPages(0, 10))
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(nil, PageRequest{Page: 2, PerPage: 5}, 12)

	assert.True(t, env.Status)
	assert.NotNil(t, env.Data)
	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 5, env.PerPage)
	assert.Equal(t, 3, env.TotalPages)
	assert.Equal(t, 12, env.TotalItems)
}

func TestDecodeListRequest_QueryStringJSON(t *testing.T) {
	req := DecodeListRequest(map[string]any{
		"conditionals": `[["status","=","OPEN"]]`,
		"sort":         `{"column":"name","desc":true}`,
		"search":       "urgent",
		"columns":      "name,status",
		"relations":    `["*"]`,
		"page":         "2",
	}, DefaultPageLimits)

	list, ok := req.Conditionals.([]any)
	require.True(t, ok)
	assert.Len(t, list, 1)
	assert.IsType(t, map[string]any{}, req.Sort)
	assert.Equal(t, "urgent", req.Search)
	assert.Equal(t, []string{"name", "status"}, req.Columns)
	assert.Equal(t, []string{"*"}, req.Relations)
	assert.Equal(t, 2, req.Page.Page)
}

func TestDecodeListRequest_UnparsableFragmentsPassThrough(t *testing.T) {
	req := DecodeListRequest(map[string]any{"conditionals": "[[broken"}, DefaultPageLimits)
	assert.Equal(t, "[[broken", req.Conditionals)
}

func TestResolveColumns(t *testing.T) {
	table := itemsTable(t)
	assert.Equal(t, []string{"name", "status"}, ResolveColumns(table, []string{"name", "bogus", "status", "name"}))
	assert.Nil(t, ResolveColumns(table, []string{"*"}))
	assert.Nil(t, ResolveColumns(table, nil))
}

func TestResolveRelations(t *testing.T) {
	all := ResolveRelations(itemsResource, []string{"*"})
	require.Len(t, all, 1)
	assert.Equal(t, "tags", all[0].Name)

	assert.Len(t, ResolveRelations(itemsResource, []string{" tags ", "tags", "owner"}), 1)
	assert.Empty(t, ResolveRelations(itemsResource, []string{"owner"}))
}

func TestQuery_ProjectionKeepsRelationKeys(t *testing.T) {
	q := newItemsQuery(t).
		Select([]string{"name"}).
		With(ResolveRelations(itemsResource, []string{"tags"}))

	sql, _, err := q.SelectBuilder(PageRequest{Page: 1, PerPage: 10}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "items"."name", "items"."id" FROM "items" LIMIT 10 OFFSET 0`, sql)
}

func TestRelation_EagerBuilder(t *testing.T) {
	rel := Relation{Name: "roles", Kind: BelongsToMany, Table: "roles", Pivot: "user_roles", PivotOwnerKey: "user_id", PivotRelatedKey: "role_id"}

	sql, args, err := rel.eagerBuilder([]any{int64(1), int64(2)}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "r_roles".*, "p_roles"."user_id" AS "__pivot_owner" FROM "roles" AS "r_roles" JOIN "user_roles" AS "p_roles" ON "p_roles"."role_id" = "r_roles"."id" WHERE "p_roles"."user_id" IN ($1,$2)`, sql)
	assert.Equal(t, []interface{}{int64(1), int64(2)}, args)
}
