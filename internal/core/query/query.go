package query

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/pmr/pmr-api/internal/storage/postgres"
)

type SortSpec struct {
	Column string
	Desc   bool
}

// Query is the listing query being shaped by the pipeline. Every method
// returns a new Query; the receiver is left untouched.
type Query struct {
	resource *Resource
	schema   *Schema
	table    *TableSchema
	where    Predicates
	sort     *SortSpec
	columns  []string
	eager    []Relation
}

func NewQuery(res *Resource, schema *Schema) (*Query, error) {
	table, ok := schema.Table(res.Table)
	if !ok {
		return nil, ErrUnknownResource
	}
	return &Query{resource: res, schema: schema, table: table}, nil
}

func (q *Query) Resource() *Resource {
	return q.resource
}

func (q *Query) Schema() *Schema {
	return q.schema
}

func (q *Query) Table() *TableSchema {
	return q.table
}

// FilterTable is the resource table minus its hidden columns: the columns
// clients may filter and sort on.
func (q *Query) FilterTable() *TableSchema {
	return q.Table().Without(q.resource.Hidden)
}

func (q *Query) Relations() []Relation {
	return q.eager
}

func (q *Query) clone() *Query {
	c := *q
	return &c
}

// Where joins pred to the existing filter using c.
func (q *Query) Where(pred sq.Sqlizer, c Combinator) *Query {
	n := q.clone()
	n.where = q.where.Add(pred, c)
	return n
}

// Compile adds a validated condition against the resource's own table.
func (q *Query) Compile(cond Condition, c Combinator) (*Query, error) {
	where, err := q.where.Compile(cond, c, q.resource.Table)
	if err != nil {
		return q, err
	}
	n := q.clone()
	n.where = where
	return n, nil
}

func (q *Query) OrderBy(spec SortSpec) *Query {
	n := q.clone()
	n.sort = &spec
	return n
}

// Select restricts the projection. Names are expected to be validated already.
func (q *Query) Select(columns []string) *Query {
	n := q.clone()
	n.columns = columns
	return n
}

// With marks relations for eager loading.
func (q *Query) With(relations []Relation) *Query {
	n := q.clone()
	n.eager = relations
	return n
}

func (q *Query) Predicate() sq.Sqlizer {
	return q.where.Sqlizer()
}

func (q *Query) projection() []string {
	table := q.resource.Table
	if len(q.columns) == 0 {
		return []string{postgres.QuoteIdentifier(table) + ".*"}
	}

	seen := make(map[string]bool, len(q.columns))
	cols := make([]string, 0, len(q.columns)+len(q.eager))
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		cols = append(cols, postgres.QualifiedColumn(table, name))
	}
	for _, c := range q.columns {
		add(c)
	}
	for _, rel := range q.eager {
		add(rel.ownerColumn())
	}
	return cols
}

func (q *Query) base(columns ...string) sq.SelectBuilder {
	b := sq.Select(columns...).
		From(postgres.QuoteIdentifier(q.resource.Table)).
		PlaceholderFormat(sq.Dollar)
	if pred := q.Predicate(); pred != nil {
		b = b.Where(pred)
	}
	return b
}

func (q *Query) ordered(b sq.SelectBuilder) sq.SelectBuilder {
	if q.sort == nil {
		return b
	}
	order := postgres.QualifiedColumn(q.resource.Table, q.sort.Column)
	if q.sort.Desc {
		return b.OrderBy(order + " DESC")
	}
	return b.OrderBy(order + " ASC")
}

// SelectBuilder renders the page query with ordering and limits applied.
func (q *Query) SelectBuilder(page PageRequest) sq.SelectBuilder {
	return q.ordered(q.base(q.projection()...)).
		Limit(uint64(page.PerPage)).
		Offset(page.Offset())
}

func (q *Query) CountBuilder() sq.SelectBuilder {
	return q.base("COUNT(*)")
}

// ToSql renders the filtered, ordered query without pagination.
func (q *Query) ToSql() (string, []interface{}, error) {
	return q.ordered(q.base(q.projection()...)).ToSql()
}
