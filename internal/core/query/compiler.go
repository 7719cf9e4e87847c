package query

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/pmr/pmr-api/internal/storage/postgres"
)

type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

func parseCombinator(s string) Combinator {
	if strings.EqualFold(strings.TrimSpace(s), string(Or)) {
		return Or
	}
	return And
}

type clause struct {
	combinator Combinator
	pred       sq.Sqlizer
}

// Predicates is an ordered list of fragments, each joined to what precedes it
// by its own combinator. Values are never mutated in place.
type Predicates struct {
	clauses []clause
}

func (p Predicates) Len() int {
	return len(p.clauses)
}

// Add appends pred. The first fragment of a list is always joined with AND.
func (p Predicates) Add(pred sq.Sqlizer, c Combinator) Predicates {
	if len(p.clauses) == 0 {
		c = And
	}
	clauses := make([]clause, len(p.clauses), len(p.clauses)+1)
	copy(clauses, p.clauses)
	return Predicates{clauses: append(clauses, clause{combinator: c, pred: pred})}
}

// Compile validates cond against its column and appends the resulting
// predicate. Conditions the column cannot hold are reported as dropped and p
// is returned unchanged.
func (p Predicates) Compile(cond Condition, c Combinator, qualifier string) (Predicates, error) {
	pred, err := compileCondition(cond, qualifier)
	if err != nil {
		return p, err
	}
	return p.Add(pred, c), nil
}

// Sqlizer folds the list using SQL precedence: runs of AND fragments bind
// first and the runs are joined with OR. Returns nil for an empty list.
func (p Predicates) Sqlizer() sq.Sqlizer {
	if len(p.clauses) == 0 {
		return nil
	}

	var terms []sq.Sqlizer
	var run []sq.Sqlizer
	for _, cl := range p.clauses {
		if cl.combinator == Or && len(run) > 0 {
			terms = append(terms, conjunction(run))
			run = nil
		}
		run = append(run, cl.pred)
	}
	terms = append(terms, conjunction(run))

	if len(terms) == 1 {
		return terms[0]
	}
	return sq.Or(terms)
}

func conjunction(preds []sq.Sqlizer) sq.Sqlizer {
	if len(preds) == 1 {
		return preds[0]
	}
	return sq.And(preds)
}

func compileCondition(cond Condition, qualifier string) (sq.Sqlizer, error) {
	col := postgres.QualifiedColumn(qualifier, cond.Column.Name)
	op := cond.Operator

	switch {
	case op == OpIsNull:
		return sq.Eq{col: nil}, nil
	case op == OpIsNotNull:
		return sq.NotEq{col: nil}, nil
	case cond.Null:
		switch {
		case op == OpEq:
			return sq.Eq{col: nil}, nil
		case op.isNegatedEquality():
			return sq.NotEq{col: nil}, nil
		}
		return nil, dropped(ReasonInvalidValue, cond)
	}

	if !IsValidText(cond.Value) {
		return nil, dropped(ReasonInvalidValue, cond)
	}

	switch op {
	case OpLike:
		return sq.Expr("CAST("+col+" AS TEXT) ILIKE ?", "%"+cond.Value+"%"), nil
	case OpNotLike:
		return sq.Expr("CAST("+col+" AS TEXT) NOT ILIKE ?", "%"+cond.Value+"%"), nil
	}

	if cond.Column.Structured() {
		return nil, dropped(ReasonInvalidValue, cond)
	}

	switch op {
	case OpIn, OpNotIn:
		values := listValues(cond.Column, cond.Value)
		if len(values) == 0 {
			return nil, dropped(ReasonInvalidValue, cond)
		}
		if op == OpIn {
			return sq.Eq{col: values}, nil
		}
		return sq.NotEq{col: values}, nil

	case OpBetween, OpNotBetween:
		bounds := strings.Split(cond.Value, ",")
		if len(bounds) != 2 {
			return nil, dropped(ReasonInvalidValue, cond)
		}
		lo, hi := strings.TrimSpace(bounds[0]), strings.TrimSpace(bounds[1])
		if lo == "" || hi == "" || !cond.Column.Accepts(lo) || !cond.Column.Accepts(hi) {
			return nil, dropped(ReasonInvalidValue, cond)
		}
		return sq.Expr(col+" "+string(op)+" ? AND ?", lo, hi), nil

	default:
		if !cond.Column.Accepts(cond.Value) {
			return nil, dropped(ReasonInvalidValue, cond)
		}
		return sq.Expr(col+" "+string(op)+" ?", cond.Value), nil
	}
}

// listValues splits a comma-delimited IN list, discarding empty segments and
// segments the column cannot hold.
func listValues(col Column, raw string) []any {
	var values []any
	for _, seg := range strings.Split(raw, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" || !col.Accepts(seg) {
			continue
		}
		values = append(values, seg)
	}
	return values
}
