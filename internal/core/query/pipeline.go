package query

import (
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-viper/mapstructure/v2"

	"github.com/pmr/pmr-api/internal/log"
	"github.com/pmr/pmr-api/internal/metrics"
)

// DefaultExcludedColumns never take part in free-text search.
var DefaultExcludedColumns = []string{
	"id", "created_at", "deleted_at", "created_by", "updated_at", "password", "token",
}

// Diagnostics collects the fragments a pipeline run ignored. It never changes
// the response; it exists for logging and tests.
type Diagnostics struct {
	Dropped []DroppedClause
}

// Pipeline shapes a Query from a ListRequest in four fixed stages:
// conditionals, sort, advanced search and free-text search.
type Pipeline struct {
	excluded map[string]bool
	logger   log.Logger
	metrics  *metrics.MetricsCollection
}

type PipelineOption func(*Pipeline)

func WithLogger(l log.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *metrics.MetricsCollection) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(excluded []string, opts ...PipelineOption) *Pipeline {
	if len(excluded) == 0 {
		excluded = DefaultExcludedColumns
	}
	p := &Pipeline{excluded: make(map[string]bool, len(excluded)), logger: log.Nop()}
	for _, c := range excluded {
		p.excluded[c] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Apply(q *Query, req *ListRequest) (*Query, *Diagnostics) {
	diag := &Diagnostics{}
	q = p.ApplyConditionals(q, req.Conditionals, diag)
	q = p.ApplySorting(q, req.Sort, diag)
	q = p.ApplyAdvancedSearch(q, req.Advanced, diag)
	q = p.ApplySearch(q, req.Search, diag)
	return q, diag
}

func (p *Pipeline) drop(diag *Diagnostics, stage Stage, err error) {
	var d *DroppedClause
	if !errors.As(err, &d) {
		d = &DroppedClause{Reason: ReasonMalformed, Clause: err.Error()}
	}
	d.Stage = stage

	if diag != nil {
		diag.Dropped = append(diag.Dropped, *d)
	}
	p.logger.Debug("dropped filter clause", "stage", string(stage), "reason", string(d.Reason), "clause", d.Clause)
	if p.metrics != nil {
		p.metrics.DroppedClauses.WithLabelValues(string(stage), string(d.Reason)).Inc()
	}
}

// ApplyConditionals ANDs every valid [column, operator, value] triple onto q.
func (p *Pipeline) ApplyConditionals(q *Query, raw any, diag *Diagnostics) *Query {
	if raw == nil {
		return q
	}
	list, ok := raw.([]any)
	if !ok {
		p.drop(diag, StageConditionals, dropped(ReasonMalformed, raw))
		return q
	}

	for _, item := range list {
		cond, err := ParseCondition(item, q.FilterTable(), false)
		if err != nil {
			p.drop(diag, StageConditionals, err)
			continue
		}
		next, err := q.Compile(cond, And)
		if err != nil {
			p.drop(diag, StageConditionals, err)
			continue
		}
		q = next
	}
	return q
}

type sortInput struct {
	Column string `mapstructure:"column"`
	Desc   bool   `mapstructure:"desc"`
}

// ApplySorting orders by a single literal column of the resource table.
func (p *Pipeline) ApplySorting(q *Query, raw any, diag *Diagnostics) *Query {
	if raw == nil {
		return q
	}

	var in sortInput
	if err := weakDecode(raw, &in); err != nil {
		p.drop(diag, StageSort, dropped(ReasonMalformed, raw))
		return q
	}
	if !q.FilterTable().Has(in.Column) {
		p.drop(diag, StageSort, dropped(ReasonUnknownColumn, raw))
		return q
	}
	return q.OrderBy(SortSpec{Column: in.Column, Desc: in.Desc})
}

type advancedGroup struct {
	Relation        string  `mapstructure:"relation"`
	Operator        *string `mapstructure:"operator"`
	Count           *int    `mapstructure:"count"`
	OpWhere         string  `mapstructure:"opWhere"`
	Conditionals    []any   `mapstructure:"conditionals"`
	AndConditionals []any   `mapstructure:"andConditionals"`
}

// ApplyAdvancedSearch applies busqueda_avanzada groups in order. A group
// that names an undeclared relation, or cannot be read at all, discards the
// whole stage: the query entering the stage is returned as is.
func (p *Pipeline) ApplyAdvancedSearch(q *Query, raw any, diag *Diagnostics) *Query {
	if raw == nil {
		return q
	}
	groups, ok := raw.([]any)
	if !ok {
		p.drop(diag, StageAdvanced, dropped(ReasonMalformed, raw))
		return q
	}

	input := q
	for _, item := range groups {
		var g advancedGroup
		if err := weakDecode(item, &g); err != nil || strings.TrimSpace(g.Relation) == "" {
			p.drop(diag, StageAdvanced, dropped(ReasonMalformed, item))
			return input
		}

		countOp := OpGte
		if g.Operator != nil {
			op, ok := parseCountOperator(*g.Operator)
			if !ok {
				p.drop(diag, StageAdvanced, dropped(ReasonInvalidOperator, item))
				return input
			}
			countOp = op
		}
		count := 1
		if g.Count != nil && *g.Count >= 0 {
			count = *g.Count
		}
		combinator := And
		if g.OpWhere != "" {
			combinator = parseCombinator(g.OpWhere)
		}

		if g.Relation == "self" {
			scope := p.groupScope(q.FilterTable(), q.Resource().Table, g, combinator, diag)
			if pred := scope.Sqlizer(); pred != nil {
				q = q.Where(pred, And)
			}
			continue
		}

		rel, ok := q.Resource().Relation(g.Relation)
		if !ok {
			p.drop(diag, StageAdvanced, dropped(ReasonUnknownRelation, item))
			return input
		}
		table, ok := q.Schema().Table(rel.Table)
		if !ok {
			p.drop(diag, StageAdvanced, dropped(ReasonUnknownRelation, item))
			return input
		}

		scope := p.groupScope(table.Without(rel.Hidden), rel.alias(), g, combinator, diag)
		pred, err := rel.existence(q.Resource().Table, scope.Sqlizer(), countOp, count)
		if err != nil {
			p.drop(diag, StageAdvanced, dropped(ReasonMalformed, item))
			return input
		}
		q = q.Where(pred, combinator)
	}
	return q
}

// groupScope compiles a group's conditionals, the first joined with AND and
// the rest with the group's combinator, then ANDs its andConditionals onto
// the result.
func (p *Pipeline) groupScope(table *TableSchema, qualifier string, g advancedGroup, c Combinator, diag *Diagnostics) Predicates {
	var conds Predicates
	for _, item := range g.Conditionals {
		cond, err := ParseCondition(item, table, true)
		if err == nil {
			conds, err = conds.Compile(cond, c, qualifier)
		}
		if err != nil {
			p.drop(diag, StageAdvanced, err)
		}
	}

	var scope Predicates
	if pred := conds.Sqlizer(); pred != nil {
		scope = scope.Add(pred, And)
	}
	for _, item := range g.AndConditionals {
		cond, err := ParseCondition(item, table, true)
		if err == nil {
			scope, err = scope.Compile(cond, And, qualifier)
		}
		if err != nil {
			p.drop(diag, StageAdvanced, err)
		}
	}
	return scope
}

// ApplySearch matches term against every searchable column of the resource
// and of each declared relation. The alternatives form one group ANDed onto q.
func (p *Pipeline) ApplySearch(q *Query, term string, diag *Diagnostics) *Query {
	if strings.TrimSpace(term) == "" {
		return q
	}
	if !IsValidText(term) {
		p.drop(diag, StageSearch, dropped(ReasonInvalidValue, term))
		return q
	}
	var group Predicates
	for _, pred := range p.searchPredicates(q.FilterTable(), q.Resource(), q.Resource().Table, term) {
		group = group.Add(pred, Or)
	}

	for _, rel := range q.Resource().Relations {
		table, ok := q.Schema().Table(rel.Table)
		if !ok {
			continue
		}
		var inner Predicates
		for _, pred := range p.searchPredicates(table.Without(rel.Hidden), q.Resource(), rel.alias(), term) {
			inner = inner.Add(pred, Or)
		}
		if inner.Len() == 0 {
			continue
		}
		exists, err := rel.existence(q.Resource().Table, inner.Sqlizer(), OpGte, 1)
		if err != nil {
			p.drop(diag, StageSearch, err)
			continue
		}
		group = group.Add(exists, Or)
	}

	if group.Len() == 0 {
		return q
	}
	return q.Where(group.Sqlizer(), And)
}

func (p *Pipeline) searchPredicates(table *TableSchema, res *Resource, qualifier, term string) []sq.Sqlizer {
	extra := make(map[string]bool, len(res.ExcludedSearch))
	for _, c := range res.ExcludedSearch {
		extra[c] = true
	}

	var preds []sq.Sqlizer
	for _, col := range table.Columns() {
		if p.excluded[col.Name] || extra[col.Name] {
			continue
		}
		pred, err := compileCondition(Condition{Column: col, Operator: OpLike, Value: term}, qualifier)
		if err != nil {
			continue
		}
		preds = append(preds, pred)
	}
	return preds
}

func weakDecode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
