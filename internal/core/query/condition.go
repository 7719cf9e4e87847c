package query

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type Stage string

const (
	StageConditionals Stage = "conditionals"
	StageSort         Stage = "sort"
	StageAdvanced     Stage = "busqueda_avanzada"
	StageSearch       Stage = "search"
)

type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonInvalidOperator Reason = "invalid_operator"
	ReasonUnknownColumn   Reason = "unknown_column"
	ReasonInvalidValue    Reason = "invalid_value"
	ReasonUnknownRelation Reason = "unknown_relation"
)

// DroppedClause explains why a fragment of a listing request was ignored.
type DroppedClause struct {
	Stage  Stage
	Reason Reason
	Clause any
}

func (d *DroppedClause) Error() string {
	return fmt.Sprintf("%s: dropped %v (%s)", d.Stage, d.Clause, d.Reason)
}

func dropped(reason Reason, clause any) *DroppedClause {
	return &DroppedClause{Reason: reason, Clause: clause}
}

// Condition is a validated column/operator/value triple.
type Condition struct {
	Column   Column
	Operator Operator
	Value    string
	Null     bool
}

// IsConditionWellFormed checks raw shapes only: column and operator must be
// strings and value a string, number or null.
func IsConditionWellFormed(column, operator, value any) bool {
	if _, ok := column.(string); !ok {
		return false
	}
	if _, ok := operator.(string); !ok {
		return false
	}
	_, ok := scalarValue(value)
	return ok
}

// ParseCondition turns a raw [column, operator, value] list into a Condition.
// Basic conditionals accept extra trailing elements; strict parsing used by
// advanced search requires exactly three.
func ParseCondition(raw any, table *TableSchema, strict bool) (Condition, error) {
	triple, ok := raw.([]any)
	if !ok || len(triple) < 3 || (strict && len(triple) != 3) {
		return Condition{}, dropped(ReasonMalformed, raw)
	}
	if !IsConditionWellFormed(triple[0], triple[1], triple[2]) {
		return Condition{}, dropped(ReasonMalformed, raw)
	}

	op, ok := ParseOperator(triple[1].(string))
	if !ok {
		return Condition{}, dropped(ReasonInvalidOperator, raw)
	}

	col, ok := table.Column(triple[0].(string))
	if !ok {
		return Condition{}, dropped(ReasonUnknownColumn, raw)
	}

	value, _ := scalarValue(triple[2])
	cond := Condition{Column: col, Operator: op}
	if value == nil {
		cond.Null = true
	} else {
		cond.Value = *value
	}
	return cond, nil
}

// scalarValue normalises a decoded JSON scalar to its text form. A nil result
// with ok set means JSON null.
func scalarValue(v any) (*string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, true
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		s = strconv.Itoa(t)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case int64:
		s = strconv.FormatInt(t, 10)
	case uint64:
		s = strconv.FormatUint(t, 10)
	case json.Number:
		s = t.String()
	default:
		return nil, false
	}
	return &s, true
}
