package resource

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/iancoleman/strcase"

	"github.com/pmr/pmr-api/internal/core/query"
)

// Hooks let a resource adjust payloads around the generic write path.
type Hooks interface {
	// BeforeWrite runs after validation and before column extraction.
	BeforeWrite(ctx context.Context, data map[string]any, creating bool) (map[string]any, error)
	// AfterCreate runs inside the insert transaction.
	AfterCreate(ctx context.Context, tx *sql.Tx, record query.Record, input map[string]any) error
}

// UpdateHooks is implemented by hooks that guard or follow single-record
// updates.
type UpdateHooks interface {
	// AuthorizeUpdate sees the stored row and the detected changes before
	// validation.
	AuthorizeUpdate(ctx context.Context, current query.Record, changes map[string]any) error
	// AfterUpdate runs inside the update transaction.
	AfterUpdate(ctx context.Context, tx *sql.Tx, record query.Record, input map[string]any) error
}

// Permissions guarding each route of a resource. Empty means authenticated only.
type Permissions struct {
	List   []string
	Show   []string
	Create []string
	Update []string
	Delete []string
}

type Definition struct {
	query.Resource

	// CreateRules and UpdateRules are JSON Schemas applied to raw payloads.
	CreateRules map[string]any
	UpdateRules map[string]any
	// Defaults fill missing keys on create.
	Defaults map[string]any
	// Ignore lists keys never written from client input.
	Ignore []string
	// ReadOnly resources only expose listing and show.
	ReadOnly bool
	// InternalWrites restricts create, update and delete to INTERNO users.
	InternalWrites bool
	Hooks          Hooks
	Permissions    Permissions
}

// Path is the URL segment the resource is served under.
func (d *Definition) Path() string {
	return strcase.ToKebab(d.Name)
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, d := range defs {
		r.MustRegister(d)
	}
	return r
}

func (r *Registry) Register(def *Definition) error {
	if def.Name == "" || def.Table == "" {
		return fmt.Errorf("resource needs a name and a table")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Path()]; exists {
		return fmt.Errorf("resource %s already registered", def.Name)
	}
	r.defs[def.Path()] = def
	return nil
}

func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get looks a resource up by its URL segment.
func (r *Registry) Get(path string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[path]
	return d, ok
}

// All returns the definitions ordered by path.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

type StoreResult struct {
	Message string
	Record  query.Record
	Records []query.Record
	Batch   bool
}

type UpdateResult struct {
	Message string
	Record  query.Record
	Changed bool
}

type DestroyResult struct {
	Message  string
	Restored bool
}
