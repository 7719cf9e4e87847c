package query

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"
)

const (
	DefaultPage    = 1
	DefaultPerPage = 10
)

// Keys of a listing request.
const (
	KeyConditionals = "conditionals"
	KeySort         = "sort"
	KeySearch       = "search"
	KeyAdvanced     = "busqueda_avanzada"
	KeyPage         = "page"
	KeyPerPage      = "per_page"
	KeyColumns      = "columns"
	KeyRelations    = "relations"
)

// StructuredKeys may arrive JSON-encoded inside a query string parameter.
var StructuredKeys = []string{KeyConditionals, KeySort, KeyAdvanced, KeyColumns, KeyRelations}

type PageLimits struct {
	MaxPage        int
	MaxPerPage     int
	DefaultPerPage int
}

var DefaultPageLimits = PageLimits{MaxPage: 10000, MaxPerPage: 1000000, DefaultPerPage: DefaultPerPage}

type PageRequest struct {
	Page    int
	PerPage int
}

// NewPageRequest clamps raw page inputs: anything unparsable or outside
// [1, MaxPage] / [1, MaxPerPage] falls back to the defaults.
func NewPageRequest(page, perPage any, limits PageLimits) PageRequest {
	p := PageRequest{Page: DefaultPage, PerPage: limits.DefaultPerPage}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if n, err := cast.ToIntE(page); err == nil && n >= 1 && n <= limits.MaxPage {
		p.Page = n
	}
	if n, err := cast.ToIntE(perPage); err == nil && n >= 1 && n <= limits.MaxPerPage {
		p.PerPage = n
	}
	return p
}

func (p PageRequest) Offset() uint64 {
	return uint64(p.Page-1) * uint64(p.PerPage)
}

// ListRequest carries the raw, client-controlled fragments of a listing
// request. Fragments are validated stage by stage in the pipeline.
type ListRequest struct {
	Conditionals any
	Sort         any
	Search       string
	Advanced     any
	Page         PageRequest
	Columns      []string
	Relations    []string
}

// DecodeListRequest reads a listing request from merged query and body input.
func DecodeListRequest(input map[string]any, limits PageLimits) *ListRequest {
	req := &ListRequest{
		Conditionals: decodeStructured(input[KeyConditionals]),
		Sort:         decodeStructured(input[KeySort]),
		Advanced:     decodeStructured(input[KeyAdvanced]),
		Page:         NewPageRequest(input[KeyPage], input[KeyPerPage], limits),
		Columns:      stringList(decodeStructured(input[KeyColumns])),
		Relations:    stringList(decodeStructured(input[KeyRelations])),
	}
	if search, err := cast.ToStringE(input[KeySearch]); err == nil {
		req.Search = search
	}
	return req
}

// decodeStructured unwraps a JSON document passed as a string. Anything that
// does not parse is returned as is and later ignored by its stage.
func decodeStructured(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '[' && s[0] != '{') {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return v
	}
	return decoded
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ResolveColumns keeps the requested projection columns that exist in table.
// An empty result means all columns.
func ResolveColumns(table *TableSchema, requested []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range requested {
		name = strings.TrimSpace(name)
		if name == "*" {
			return nil
		}
		if table.Has(name) && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// ResolveRelations maps requested relation names onto declared relations;
// "*" selects every declared relation and unknown names are ignored.
func ResolveRelations(res *Resource, requested []string) []Relation {
	var out []Relation
	seen := make(map[string]bool)
	for _, name := range requested {
		name = strings.TrimSpace(name)
		if name == "*" {
			return append([]Relation(nil), res.Relations...)
		}
		if rel, ok := res.Relation(name); ok && !seen[name] {
			seen[name] = true
			out = append(out, rel)
		}
	}
	return out
}
