package query

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/pmr/pmr-api/internal/storage/postgres"
)

const pivotOwnerColumn = "__pivot_owner"

// LoadRelations attaches related rows to records under each relation's name:
// a list for HasMany and BelongsToMany, an object (or nil) for BelongsTo.
// Each relation costs one query regardless of the number of records.
func (e *Executor) LoadRelations(ctx context.Context, res *Resource, schema *Schema, records []Record, relations []Relation) error {
	if len(records) == 0 {
		return nil
	}

	for _, rel := range relations {
		table, ok := schema.Table(rel.Table)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownResource, rel.Table)
		}

		keys := distinctValues(records, rel.ownerColumn())
		if len(keys) == 0 {
			attachEmpty(records, rel)
			continue
		}

		related, err := e.Fetch(ctx, table, rel.Hidden, rel.eagerBuilder(keys))
		if err != nil {
			return fmt.Errorf("failed to load relation %s of %s: %w", rel.Name, res.Name, err)
		}

		groupKey := rel.ForeignKey
		switch rel.Kind {
		case BelongsTo:
			groupKey = rel.relatedKey()
		case BelongsToMany:
			groupKey = pivotOwnerColumn
		}

		grouped := make(map[string][]Record)
		for _, r := range related {
			k := keyOf(r[groupKey])
			if rel.Kind == BelongsToMany {
				delete(r, pivotOwnerColumn)
			}
			grouped[k] = append(grouped[k], r)
		}

		for _, rec := range records {
			matches := grouped[keyOf(rec[rel.ownerColumn()])]
			if rel.Kind == BelongsTo {
				if len(matches) > 0 {
					rec[rel.Name] = matches[0]
				} else {
					rec[rel.Name] = nil
				}
				continue
			}
			if matches == nil {
				matches = []Record{}
			}
			rec[rel.Name] = matches
		}
	}
	return nil
}

func (rel Relation) eagerBuilder(keys []any) sq.SelectBuilder {
	alias := rel.alias()
	from := postgres.QuoteIdentifier(rel.Table) + " AS " + postgres.QuoteIdentifier(alias)

	switch rel.Kind {
	case BelongsTo:
		return sq.Select(postgres.QuoteIdentifier(alias)+".*").
			From(from).
			Where(sq.Eq{postgres.QualifiedColumn(alias, rel.relatedKey()): keys}).
			PlaceholderFormat(sq.Dollar)
	case BelongsToMany:
		pivot := rel.pivotAlias()
		return sq.Select(
			postgres.QuoteIdentifier(alias)+".*",
			postgres.QualifiedColumn(pivot, rel.PivotOwnerKey)+" AS "+postgres.QuoteIdentifier(pivotOwnerColumn),
		).
			From(from).
			Join(postgres.QuoteIdentifier(rel.Pivot) + " AS " + postgres.QuoteIdentifier(pivot) +
				" ON " + postgres.QualifiedColumn(pivot, rel.PivotRelatedKey) + " = " + postgres.QualifiedColumn(alias, rel.relatedKey())).
			Where(sq.Eq{postgres.QualifiedColumn(pivot, rel.PivotOwnerKey): keys}).
			PlaceholderFormat(sq.Dollar)
	default:
		return sq.Select(postgres.QuoteIdentifier(alias)+".*").
			From(from).
			Where(sq.Eq{postgres.QualifiedColumn(alias, rel.ForeignKey): keys}).
			PlaceholderFormat(sq.Dollar)
	}
}

func attachEmpty(records []Record, rel Relation) {
	for _, rec := range records {
		if rel.Kind == BelongsTo {
			rec[rel.Name] = nil
		} else {
			rec[rel.Name] = []Record{}
		}
	}
}

func distinctValues(records []Record, column string) []any {
	seen := make(map[string]bool)
	var out []any
	for _, r := range records {
		v, ok := r[column]
		if !ok || v == nil {
			continue
		}
		k := keyOf(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func keyOf(v any) string {
	return fmt.Sprint(v)
}
