package query

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmr/pmr-api/internal/metrics"
)

func TestPipeline_ConditionalsSortAndPage(t *testing.T) {
	q := newItemsQuery(t)
	req := DecodeListRequest(map[string]any{
		"conditionals": []any{[]any{"status", "=", "OPEN"}},
		"sort":         map[string]any{"column": "name", "desc": true},
		"page":         float64(1),
		"per_page":     float64(5),
	}, DefaultPageLimits)

	q, diag := NewPipeline(nil).Apply(q, req)
	assert.Empty(t, diag.Dropped)

	sql, args, err := q.SelectBuilder(req.Page).ToSql()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "items".* FROM "items" WHERE "items"."status" = $1 ORDER BY "items"."name" DESC LIMIT 5 OFFSET 0`, sql)
	assert.Equal(t, []interface{}{"OPEN"}, args)
}

func TestPipeline_UnknownColumnIsEquivalentToOmission(t *testing.T) {
	p := NewPipeline(nil)
	with, diag := p.Apply(newItemsQuery(t), &ListRequest{Conditionals: []any{
		[]any{"status", "=", "OPEN"},
		[]any{"not_a_column", "=", "x"},
	}})
	without, _ := p.Apply(newItemsQuery(t), &ListRequest{Conditionals: []any{
		[]any{"status", "=", "OPEN"},
	}})

	sqlWith, argsWith := whereSQL(t, with)
	sqlWithout, argsWithout := whereSQL(t, without)
	assert.Equal(t, sqlWithout, sqlWith)
	assert.Equal(t, argsWithout, argsWith)
	require.Len(t, diag.Dropped, 1)
	assert.Equal(t, ReasonUnknownColumn, diag.Dropped[0].Reason)
	assert.Equal(t, StageConditionals, diag.Dropped[0].Stage)
}

func TestPipeline_ConditionalsNotAListIsNoop(t *testing.T) {
	q := newItemsQuery(t)
	out := NewPipeline(nil).ApplyConditionals(q, "status=OPEN", &Diagnostics{})
	assert.Same(t, q, out)
}

func TestPipeline_SortOnUnknownColumnIsNoop(t *testing.T) {
	q := newItemsQuery(t)
	p := NewPipeline(nil)

	assert.Same(t, q, p.ApplySorting(q, map[string]any{"column": "tags.label"}, nil))
	assert.Same(t, q, p.ApplySorting(q, "name", nil))
}

func TestPipeline_AdvancedSelfGroupUsesCombinator(t *testing.T) {
	q := NewPipeline(nil).ApplyAdvancedSearch(newItemsQuery(t), []any{
		map[string]any{
			"relation": "self",
			"opWhere":  "OR",
			"conditionals": []any{
				[]any{"status", "=", "OPEN"},
				[]any{"status", "=", "CLOSED"},
			},
		},
	}, nil)

	sql, args := whereSQL(t, q)
	assert.Equal(t, `SELECT COUNT(*) FROM "items" WHERE ("items"."status" = $1 OR "items"."status" = $2)`, sql)
	assert.Equal(t, []interface{}{"OPEN", "CLOSED"}, args)
}

func TestPipeline_AdvancedRelationExists(t *testing.T) {
	q := NewPipeline(nil).ApplyAdvancedSearch(newItemsQuery(t), []any{
		map[string]any{
			"relation":     "tags",
			"conditionals": []any{[]any{"label", "=", "urgent"}},
		},
	}, nil)

	sql, args := whereSQL(t, q)
	assert.Equal(t, `SELECT COUNT(*) FROM "items" WHERE EXISTS (SELECT 1 FROM "tags" AS "r_tags" WHERE "r_tags"."item_id" = "items"."id" AND "r_tags"."label" = $1)`, sql)
	assert.Equal(t, []interface{}{"urgent"}, args)
}

func TestPipeline_AdvancedRelationCount(t *testing.T) {
	q := NewPipeline(nil).ApplyAdvancedSearch(newItemsQuery(t), []any{
		map[string]any{
			"relation":        "tags",
			"operator":        ">=",
			"count":           float64(2),
			"conditionals":    []any{[]any{"label", "LIKE", "urg"}},
			"andConditionals": []any{[]any{"id", ">", float64(10)}},
		},
	}, nil)

	sql, args := whereSQL(t, q)
	assert.Equal(t, `SELECT COUNT(*) FROM "items" WHERE (SELECT COUNT(*) FROM "tags" AS "r_tags" WHERE "r_tags"."item_id" = "items"."id" AND (CAST("r_tags"."label" AS TEXT) ILIKE $1 AND "r_tags"."id" > $2)) >= $3`, sql)
	assert.Equal(t, []interface{}{"%urg%", "10", 2}, args)
}

func TestPipeline_AdvancedDefaultsNegativeCountToOne(t *testing.T) {
	q := NewPipeline(nil).ApplyAdvancedSearch(newItemsQuery(t), []any{
		map[string]any{"relation": "tags", "count": float64(-4)},
	}, nil)

	sql, _ := whereSQL(t, q)
	assert.Contains(t, sql, "WHERE EXISTS (SELECT 1 FROM")
}

func TestPipeline_AdvancedOrGroupJoinsWithOr(t *testing.T) {
	p := NewPipeline(nil)
	q := p.ApplyConditionals(newItemsQuery(t), []any{[]any{"status", "=", "OPEN"}}, nil)
	q = p.ApplyAdvancedSearch(q, []any{
		map[string]any{"relation": "tags", "opWhere": "or", "conditionals": []any{[]any{"label", "=", "x"}}},
	}, nil)

	sql, _ := whereSQL(t, q)
	assert.True(t, strings.HasPrefix(sql, `SELECT COUNT(*) FROM "items" WHERE ("items"."status" = $1 OR EXISTS (`), sql)
}

func TestPipeline_AdvancedUnknownRelationFailsClosed(t *testing.T) {
	p := NewPipeline(nil)
	input := p.ApplyConditionals(newItemsQuery(t), []any{[]any{"status", "=", "OPEN"}}, nil)
	beforeSQL, beforeArgs := whereSQL(t, input)

	diag := &Diagnostics{}
	out := p.ApplyAdvancedSearch(input, []any{
		map[string]any{"relation": "self", "conditionals": []any{[]any{"name", "=", "a"}}},
		map[string]any{"relation": "not_a_real_relation", "conditionals": []any{[]any{"name", "=", "x"}}},
		map[string]any{"relation": "self", "conditionals": []any{[]any{"name", "=", "b"}}},
	}, diag)

	assert.Same(t, input, out)
	afterSQL, afterArgs := whereSQL(t, out)
	assert.Equal(t, beforeSQL, afterSQL)
	assert.Equal(t, beforeArgs, afterArgs)
	require.NotEmpty(t, diag.Dropped)
	assert.Equal(t, ReasonUnknownRelation, diag.Dropped[len(diag.Dropped)-1].Reason)
}

func TestPipeline_AdvancedInvalidCountOperatorFailsClosed(t *testing.T) {
	q := newItemsQuery(t)
	out := NewPipeline(nil).ApplyAdvancedSearch(q, []any{
		map[string]any{"relation": "tags", "operator": "LIKE"},
	}, nil)
	assert.Same(t, q, out)
}

func TestPipeline_FullListingWhenRelationIsFake(t *testing.T) {
	q := newItemsQuery(t)
	req := DecodeListRequest(map[string]any{
		"busqueda_avanzada": `[{"relation":"not_a_real_relation","conditionals":[["name","=","x"]]}]`,
	}, DefaultPageLimits)

	out, _ := NewPipeline(nil).Apply(q, req)
	sql, args := whereSQL(t, out)
	assert.Equal(t, `SELECT COUNT(*) FROM "items"`, sql)
	assert.Empty(t, args)
}

func TestPipeline_SearchCoversColumnsAndRelations(t *testing.T) {
	q := NewPipeline(nil).ApplySearch(newItemsQuery(t), "urgent", nil)

	sql, args := whereSQL(t, q)
	assert.Equal(t, `SELECT COUNT(*) FROM "items" WHERE (`+
		`CAST("items"."name" AS TEXT) ILIKE $1 OR `+
		`CAST("items"."status" AS TEXT) ILIKE $2 OR `+
		`CAST("items"."metadata" AS TEXT) ILIKE $3 OR `+
		`EXISTS (SELECT 1 FROM "tags" AS "r_tags" WHERE "r_tags"."item_id" = "items"."id" AND `+
		`(CAST("r_tags"."item_id" AS TEXT) ILIKE $4 OR CAST("r_tags"."label" AS TEXT) ILIKE $5)))`, sql)
	for _, a := range args {
		assert.Equal(t, "%urgent%", a)
	}
}

func TestPipeline_SearchNeverTouchesExcludedColumns(t *testing.T) {
	q := NewPipeline(nil).ApplySearch(newItemsQuery(t), "$2a$10$hash", nil)

	sql, _ := whereSQL(t, q)
	assert.NotContains(t, sql, `"password"`)
	assert.NotContains(t, sql, `"items"."id"`+" AS TEXT")
	assert.NotContains(t, sql, `"created_at"`)
}

func TestPipeline_BlankSearchIsNoop(t *testing.T) {
	q := newItemsQuery(t)
	assert.Same(t, q, NewPipeline(nil).ApplySearch(q, "   ", nil))
}

func TestPipeline_DroppedClausesAreCounted(t *testing.T) {
	m := metrics.NewForTesting()
	p := NewPipeline(nil, WithMetrics(m))

	p.ApplyConditionals(newItemsQuery(t), []any{[]any{"nope", "=", "x"}, []any{"id", "=", "abc"}}, nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DroppedClauses.WithLabelValues("conditionals", "unknown_column")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DroppedClauses.WithLabelValues("conditionals", "invalid_value")))
}

func TestPipeline_ValuesTheColumnCannotHoldAreDropped(t *testing.T) {
	p := NewPipeline(nil)
	base, _ := whereSQL(t, newItemsQuery(t))

	q, diag := p.Apply(newItemsQuery(t), &ListRequest{Conditionals: []any{
		[]any{"id", "=", float64(4.5)},
		[]any{"created_at", ">", "15:04"},
		[]any{"id", "IN", "NaN,2.5"},
		[]any{"name", "=", "a\x00"},
		[]any{"name", "LIKE", "\xff"},
	}})

	sql, args := whereSQL(t, q)
	assert.Equal(t, base, sql)
	assert.Empty(t, args)
	require.Len(t, diag.Dropped, 5)
	for _, d := range diag.Dropped {
		assert.Equal(t, ReasonInvalidValue, d.Reason)
	}
}

func TestPipeline_InListKeepsOnlyValidIntegers(t *testing.T) {
	q := NewPipeline(nil).ApplyConditionals(newItemsQuery(t), []any{
		[]any{"id", "IN", "1,NaN,2.5,3"},
	}, nil)

	sql, args := whereSQL(t, q)
	assert.Equal(t, `SELECT COUNT(*) FROM "items" WHERE "items"."id" IN ($1,$2)`, sql)
	assert.Equal(t, []interface{}{"1", "3"}, args)
}

func TestPipeline_SearchWithInvalidTextIsNoop(t *testing.T) {
	q := newItemsQuery(t)
	diag := &Diagnostics{}

	for _, term := range []string{"\xff", "a\x00b"} {
		assert.Same(t, q, NewPipeline(nil).ApplySearch(q, term, diag))
	}
	require.Len(t, diag.Dropped, 2)
	assert.Equal(t, StageSearch, diag.Dropped[0].Stage)
	assert.Equal(t, ReasonInvalidValue, diag.Dropped[0].Reason)
}

func TestPipeline_HiddenColumnsCannotBeFilteredOrSorted(t *testing.T) {
	p := NewPipeline(nil)
	base, _ := whereSQL(t, newItemsQuery(t))

	q, diag := p.Apply(newItemsQuery(t), &ListRequest{
		Conditionals: []any{[]any{"password", "LIKE", "$2y$10$a"}},
		Sort:         map[string]any{"column": "password"},
		Advanced: []any{map[string]any{
			"relation":     "self",
			"conditionals": []any{[]any{"password", "=", "x"}},
		}},
	})

	sql, args := whereSQL(t, q)
	assert.Equal(t, base, sql)
	assert.Empty(t, args)
	require.Len(t, diag.Dropped, 3)
	for _, d := range diag.Dropped {
		assert.Equal(t, ReasonUnknownColumn, d.Reason)
	}

	full, _, err := q.SelectBuilder(NewPageRequest(1, 10, DefaultPageLimits)).ToSql()
	require.NoError(t, err)
	assert.NotContains(t, full, "ORDER BY")
}

func TestPipeline_HiddenRelationColumnsCannotBeFiltered(t *testing.T) {
	res := &Resource{
		Name:  "items",
		Table: "items",
		Relations: []Relation{
			{Name: "tags", Kind: HasMany, Table: "tags", ForeignKey: "item_id", Hidden: []string{"label"}},
		},
	}
	schema, err := LoadSchema(context.Background(), itemsTables, res)
	require.NoError(t, err)
	q, err := NewQuery(res, schema)
	require.NoError(t, err)

	diag := &Diagnostics{}
	NewPipeline(nil).ApplyAdvancedSearch(q, []any{map[string]any{
		"relation":     "tags",
		"conditionals": []any{[]any{"label", "=", "secret"}},
	}}, diag)

	require.Len(t, diag.Dropped, 1)
	assert.Equal(t, ReasonUnknownColumn, diag.Dropped[0].Reason)
}
