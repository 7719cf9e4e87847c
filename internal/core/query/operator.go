package query

import "strings"

// Operator is one of the comparison tokens a client may use in a condition.
type Operator string

const (
	OpEq         Operator = "="
	OpLt         Operator = "<"
	OpGt         Operator = ">"
	OpLte        Operator = "<="
	OpGte        Operator = ">="
	OpLike       Operator = "LIKE"
	OpNotLike    Operator = "NOT LIKE"
	OpNeq        Operator = "!="
	OpAltNeq     Operator = "<>"
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT IN"
	OpBetween    Operator = "BETWEEN"
	OpNotBetween Operator = "NOT BETWEEN"
	OpIsNull     Operator = "IS NULL"
	OpIsNotNull  Operator = "IS NOT NULL"
)

var operators = map[Operator]struct{}{
	OpEq: {}, OpLt: {}, OpGt: {}, OpLte: {}, OpGte: {},
	OpLike: {}, OpNotLike: {}, OpNeq: {}, OpAltNeq: {},
	OpIn: {}, OpNotIn: {}, OpBetween: {}, OpNotBetween: {},
	OpIsNull: {}, OpIsNotNull: {},
}

// Operators allowed when comparing a related-row count.
var countOperators = map[Operator]struct{}{
	OpEq: {}, OpLt: {}, OpGt: {}, OpLte: {}, OpGte: {}, OpNeq: {}, OpAltNeq: {},
}

// ParseOperator upper-cases token and reports whether it names a whitelisted operator.
func ParseOperator(token string) (Operator, bool) {
	op := Operator(strings.ToUpper(strings.TrimSpace(token)))
	_, ok := operators[op]
	return op, ok
}

func IsValidOperator(token string) bool {
	_, ok := ParseOperator(token)
	return ok
}

func parseCountOperator(token string) (Operator, bool) {
	op := Operator(strings.ToUpper(strings.TrimSpace(token)))
	_, ok := countOperators[op]
	return op, ok
}

func (o Operator) ignoresValue() bool {
	return o == OpIsNull || o == OpIsNotNull
}

func (o Operator) isNegatedEquality() bool {
	return o == OpNeq || o == OpAltNeq
}
