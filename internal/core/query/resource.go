package query

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/pmr/pmr-api/internal/storage/postgres"
)

type RelationKind int

const (
	// HasMany: rows of Table carry ForeignKey pointing at the owner's OwnerKey.
	HasMany RelationKind = iota
	// BelongsTo: the owner carries ForeignKey pointing at Table's RelatedKey.
	BelongsTo
	// BelongsToMany: Pivot joins the owner (PivotOwnerKey) and Table (PivotRelatedKey).
	BelongsToMany
)

type Relation struct {
	Name            string
	Kind            RelationKind
	Table           string
	ForeignKey      string
	OwnerKey        string
	RelatedKey      string
	Pivot           string
	PivotOwnerKey   string
	PivotRelatedKey string
	Hidden          []string
}

// Resource describes a table exposed through the listing engine and the
// relations clients may filter, search and eager-load through.
type Resource struct {
	Name       string
	Table      string
	PrimaryKey string
	Relations  []Relation
	// ExcludedSearch extends the engine-wide free-text search exclusions.
	ExcludedSearch []string
	// Hidden columns are stripped from every returned record.
	Hidden []string
}

func (r *Resource) Key() string {
	if r.PrimaryKey == "" {
		return "id"
	}
	return r.PrimaryKey
}

func (r *Resource) Relation(name string) (Relation, bool) {
	for _, rel := range r.Relations {
		if rel.Name == name {
			return rel, true
		}
	}
	return Relation{}, false
}

func (rel Relation) ownerKey() string {
	if rel.OwnerKey == "" {
		return "id"
	}
	return rel.OwnerKey
}

func (rel Relation) relatedKey() string {
	if rel.RelatedKey == "" {
		return "id"
	}
	return rel.RelatedKey
}

// alias is the name the related table takes inside correlated subqueries.
func (rel Relation) alias() string {
	return "r_" + rel.Name
}

func (rel Relation) pivotAlias() string {
	return "p_" + rel.Name
}

// ownerColumn is the column of the owning table a relation depends on.
func (rel Relation) ownerColumn() string {
	if rel.Kind == BelongsTo {
		return rel.ForeignKey
	}
	return rel.ownerKey()
}

// correlated returns a SELECT over the related table constrained to rows
// belonging to the current row of owner.
func (rel Relation) correlated(owner string, columns ...string) sq.SelectBuilder {
	alias := rel.alias()
	from := postgres.QuoteIdentifier(rel.Table) + " AS " + postgres.QuoteIdentifier(alias)
	b := sq.Select(columns...).From(from)

	switch rel.Kind {
	case BelongsTo:
		b = b.Where(postgres.QualifiedColumn(alias, rel.relatedKey()) + " = " + postgres.QualifiedColumn(owner, rel.ForeignKey))
	case BelongsToMany:
		pivot := rel.pivotAlias()
		b = b.Join(postgres.QuoteIdentifier(rel.Pivot) + " AS " + postgres.QuoteIdentifier(pivot) +
			" ON " + postgres.QualifiedColumn(pivot, rel.PivotRelatedKey) + " = " + postgres.QualifiedColumn(alias, rel.relatedKey()))
		b = b.Where(postgres.QualifiedColumn(pivot, rel.PivotOwnerKey) + " = " + postgres.QualifiedColumn(owner, rel.ownerKey()))
	default:
		b = b.Where(postgres.QualifiedColumn(alias, rel.ForeignKey) + " = " + postgres.QualifiedColumn(owner, rel.ownerKey()))
	}
	return b.PlaceholderFormat(sq.Question)
}

// existence builds the relation-existence predicate: EXISTS when asking for
// at least one matching row, a COUNT comparison otherwise.
func (rel Relation) existence(owner string, scope sq.Sqlizer, op Operator, count int) (sq.Sqlizer, error) {
	if op == OpGte && count == 1 {
		b := rel.correlated(owner, "1")
		if scope != nil {
			b = b.Where(scope)
		}
		sql, args, err := b.ToSql()
		if err != nil {
			return nil, err
		}
		return sq.Expr("EXISTS ("+sql+")", args...), nil
	}

	b := rel.correlated(owner, "COUNT(*)")
	if scope != nil {
		b = b.Where(scope)
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("("+sql+") "+string(op)+" ?", append(args, count)...), nil
}
