package resource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/pmr/pmr-api/internal/core/query"
	"github.com/pmr/pmr-api/internal/core/validation"
	"github.com/pmr/pmr-api/internal/log"
	"github.com/pmr/pmr-api/internal/metrics"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidID      = errors.New("invalid id")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrReadOnly       = errors.New("resource is read only")
)

const (
	MessageShown        = "Solicitud Correcta"
	MessageCreated      = "El registro fue creado con éxito."
	MessageBatchCreated = "Registros creados con éxito."
	MessageUpdated      = "El registro fue actualizado."
	MessageUnchanged    = "Sin cambios"
	MessageInvalidShape = "El formato incorrecto, el formato correcto es { data: Object|Object[] }"
)

// managedColumns are maintained by the database or the service, never by clients.
var managedColumns = map[string]bool{"created_at": true, "updated_at": true, "deleted_at": true}

// BatchValidationError reports per-item validation failures of a batch write,
// keyed by the item's position in the payload.
type BatchValidationError struct {
	Items map[int]map[string][]string
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("Se encontraron %d registros con errores en los datos recibidos", len(e.Items))
}

type Service struct {
	repo         *Repository
	introspector query.Introspector
	pipeline     *query.Pipeline
	executor     *query.Executor
	validator    *validation.Validator
	limits       query.PageLimits
	logger       log.Logger
	metrics      *metrics.MetricsCollection
}

func NewService(
	repo *Repository,
	introspector query.Introspector,
	pipeline *query.Pipeline,
	validator *validation.Validator,
	limits query.PageLimits,
	logger log.Logger,
	m *metrics.MetricsCollection,
) *Service {
	return &Service{
		repo:         repo,
		introspector: introspector,
		pipeline:     pipeline,
		executor:     query.NewExecutor(repo.DB().DB),
		validator:    validator,
		limits:       limits,
		logger:       logger,
		metrics:      m,
	}
}

// List runs a listing request through the filter pipeline and paginates it.
func (s *Service) List(ctx context.Context, def *Definition, input map[string]any) (*query.ResultEnvelope, error) {
	schema, err := query.LoadSchema(ctx, s.introspector, &def.Resource)
	if err != nil {
		return nil, err
	}
	q, err := query.NewQuery(&def.Resource, schema)
	if err != nil {
		return nil, err
	}

	req := query.DecodeListRequest(input, s.limits)
	q, diag := s.pipeline.Apply(q, req)
	q = q.Select(query.ResolveColumns(q.Table(), req.Columns)).
		With(query.ResolveRelations(&def.Resource, req.Relations))

	if len(diag.Dropped) > 0 {
		s.logger.Debug("listing ran with dropped clauses", "resource", def.Name, "dropped", len(diag.Dropped))
	}
	if s.metrics != nil {
		s.metrics.ListQueries.WithLabelValues(def.Name).Inc()
	}

	return s.executor.Execute(ctx, q, req.Page)
}

// Show returns one record, soft-deleted or not, with the requested relations.
func (s *Service) Show(ctx context.Context, def *Definition, id string, relations []string) (query.Record, error) {
	schema, err := query.LoadSchema(ctx, s.introspector, &def.Resource)
	if err != nil {
		return nil, err
	}
	table, _ := schema.Table(def.Table)

	if !acceptsID(table, def.Key(), id) {
		return nil, ErrNotFound
	}
	rec, err := s.repo.FindByID(ctx, s.repo.DB().DB, table, def.Key(), id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	strip(rec, def.Hidden)

	rels := query.ResolveRelations(&def.Resource, relations)
	if err := s.executor.LoadRelations(ctx, &def.Resource, schema, []query.Record{rec}, rels); err != nil {
		return nil, err
	}
	return rec, nil
}

// Store inserts one object or, for an array payload, every object in a single
// transaction after all of them pass validation.
func (s *Service) Store(ctx context.Context, def *Definition, payload any, actor *int64) (*StoreResult, error) {
	if def.ReadOnly {
		return nil, ErrReadOnly
	}
	items, batch, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}

	table, err := query.LoadTable(ctx, s.introspector, def.Table)
	if err != nil {
		return nil, err
	}

	if !batch {
		if err := s.validator.Validate(items[0], def.CreateRules); err != nil {
			return nil, err
		}
	} else {
		failures := make(map[int]map[string][]string)
		for i, item := range items {
			if err := s.validator.Validate(item, def.CreateRules); err != nil {
				ve := validation.GetValidationErrors(err)
				if ve == nil {
					return nil, err
				}
				failures[i] = ve.Fields()
			}
		}
		if len(failures) > 0 {
			return nil, &BatchValidationError{Items: failures}
		}
	}

	rows := make([]map[string]any, len(items))
	for i, item := range items {
		row, err := s.prepareCreate(ctx, def, table, item, actor)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}

	created := make([]query.Record, 0, len(rows))
	err = s.repo.DB().WithTx(ctx, func(tx *sql.Tx) error {
		for i, row := range rows {
			rec, err := s.repo.Insert(ctx, tx, table, row)
			if err != nil {
				return err
			}
			if def.Hooks != nil {
				if err := def.Hooks.AfterCreate(ctx, tx, rec, items[i]); err != nil {
					return err
				}
			}
			strip(rec, def.Hidden)
			created = append(created, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if batch {
		return &StoreResult{Message: MessageBatchCreated, Records: created, Batch: true}, nil
	}
	return &StoreResult{Message: MessageCreated, Record: created[0]}, nil
}

func (s *Service) prepareCreate(ctx context.Context, def *Definition, table *query.TableSchema, item map[string]any, actor *int64) (map[string]any, error) {
	data := item
	if def.Hooks != nil {
		var err error
		if data, err = def.Hooks.BeforeWrite(ctx, cloneMap(item), true); err != nil {
			return nil, err
		}
	}

	row := extractModelData(table, def, data)
	for k, v := range def.Defaults {
		if _, set := row[k]; !set && table.Has(k) {
			row[k] = v
		}
	}
	if actor != nil && table.Has("created_by") {
		row["created_by"] = *actor
	}
	return row, nil
}

// Update writes only the fields whose values differ from the stored row.
// The id "multiple" with an array payload updates several rows at once.
func (s *Service) Update(ctx context.Context, def *Definition, id string, payload any) (*UpdateResult, error) {
	if def.ReadOnly {
		return nil, ErrReadOnly
	}
	if id == "multiple" {
		if list, ok := decodeJSONString(payload).([]any); ok {
			return s.updateMany(ctx, def, list)
		}
	}

	table, err := query.LoadTable(ctx, s.introspector, def.Table)
	if err != nil {
		return nil, err
	}
	if !acceptsID(table, def.Key(), id) {
		return nil, ErrInvalidID
	}
	data, ok := decodeJSONString(payload).(map[string]any)
	if !ok {
		return nil, ErrInvalidPayload
	}

	db := s.repo.DB().DB
	current, err := s.repo.FindByID(ctx, db, table, def.Key(), id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	changes := diffChanges(current, data)
	if len(changes) == 0 {
		strip(current, def.Hidden)
		return &UpdateResult{Message: MessageUnchanged, Record: current}, nil
	}

	guard, _ := def.Hooks.(UpdateHooks)
	if guard != nil {
		if err := guard.AuthorizeUpdate(ctx, current, changes); err != nil {
			return nil, err
		}
	}

	if err := s.validator.ValidatePartial(changes, def.UpdateRules); err != nil {
		return nil, err
	}

	input := changes
	if def.Hooks != nil {
		if changes, err = def.Hooks.BeforeWrite(ctx, cloneMap(changes), false); err != nil {
			return nil, err
		}
	}

	row := extractModelData(table, def, changes)
	delete(row, "created_by")
	if len(row) == 0 && guard == nil {
		strip(current, def.Hidden)
		return &UpdateResult{Message: MessageUnchanged, Record: current}, nil
	}

	updated := current
	err = s.repo.DB().WithTx(ctx, func(tx *sql.Tx) error {
		if len(row) > 0 {
			rec, err := s.repo.Update(ctx, tx, table, def.Key(), id, row)
			if err != nil {
				return err
			}
			if rec == nil {
				return ErrNotFound
			}
			updated = rec
		}
		if guard != nil {
			return guard.AfterUpdate(ctx, tx, updated, input)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	strip(updated, def.Hidden)
	return &UpdateResult{Message: MessageUpdated, Record: updated, Changed: true}, nil
}

func (s *Service) updateMany(ctx context.Context, def *Definition, list []any) (*UpdateResult, error) {
	table, err := query.LoadTable(ctx, s.introspector, def.Table)
	if err != nil {
		return nil, err
	}

	type pending struct {
		id  any
		row map[string]any
	}
	var work []pending
	failures := make(map[int]map[string][]string)

	for i, raw := range list {
		item, ok := raw.(map[string]any)
		if !ok {
			failures[i] = map[string][]string{"data": {"El elemento debe ser un objeto"}}
			continue
		}
		id, ok := item[def.Key()]
		if !ok || !acceptsID(table, def.Key(), cast.ToString(id)) {
			failures[i] = map[string][]string{def.Key(): {"El identificador no es válido"}}
			continue
		}
		if err := s.validator.ValidatePartial(item, def.UpdateRules); err != nil {
			if ve := validation.GetValidationErrors(err); ve != nil {
				failures[i] = ve.Fields()
				continue
			}
			return nil, err
		}

		row := extractModelData(table, def, item)
		delete(row, "created_by")
		if len(row) > 0 {
			work = append(work, pending{id: id, row: row})
		}
	}
	if len(failures) > 0 {
		return nil, &BatchValidationError{Items: failures}
	}

	updated := 0
	err = s.repo.DB().WithTx(ctx, func(tx *sql.Tx) error {
		for _, w := range work {
			rec, err := s.repo.Update(ctx, tx, table, def.Key(), w.id, w.row)
			if err != nil {
				return err
			}
			if rec != nil {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &UpdateResult{Message: fmt.Sprintf("%d registros fueron actualizados.", updated), Changed: updated > 0}, nil
}

// Destroy soft-deletes a live row, restores a soft-deleted one, and hard
// deletes rows of tables without deleted_at.
func (s *Service) Destroy(ctx context.Context, def *Definition, id string) (*DestroyResult, error) {
	if def.ReadOnly {
		return nil, ErrReadOnly
	}
	table, err := query.LoadTable(ctx, s.introspector, def.Table)
	if err != nil {
		return nil, err
	}
	if !acceptsID(table, def.Key(), id) {
		return nil, ErrNotFound
	}

	db := s.repo.DB().DB
	current, err := s.repo.FindByID(ctx, db, table, def.Key(), id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotFound
	}

	if !table.Has("deleted_at") {
		if err := s.repo.Delete(ctx, db, table, def.Key(), id); err != nil {
			return nil, err
		}
		return &DestroyResult{Message: fmt.Sprintf("El registro con id %s ha sido eliminado.", id)}, nil
	}

	if current["deleted_at"] != nil {
		if err := s.repo.SetDeleted(ctx, db, table, def.Key(), id, false); err != nil {
			return nil, err
		}
		return &DestroyResult{Message: fmt.Sprintf("El registro con id %s ha sido restaurado.", id), Restored: true}, nil
	}

	if err := s.repo.SetDeleted(ctx, db, table, def.Key(), id, true); err != nil {
		return nil, err
	}
	return &DestroyResult{Message: fmt.Sprintf("El registro con id %s ha sido eliminado.", id)}, nil
}

func acceptsID(table *query.TableSchema, key, id string) bool {
	col, ok := table.Column(key)
	if !ok || strings.TrimSpace(id) == "" {
		return false
	}
	if col.Kind() == query.KindNumeric {
		for _, r := range id {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return col.Accepts(id)
}

// normalizePayload accepts an object, an array of objects, or either one
// JSON-encoded in a string.
func normalizePayload(payload any) ([]map[string]any, bool, error) {
	switch t := decodeJSONString(payload).(type) {
	case map[string]any:
		return []map[string]any{t}, false, nil
	case []any:
		if len(t) == 0 {
			return nil, false, ErrInvalidPayload
		}
		items := make([]map[string]any, len(t))
		for i, raw := range t {
			item, ok := raw.(map[string]any)
			if !ok {
				return nil, false, ErrInvalidPayload
			}
			items[i] = item
		}
		return items, true, nil
	}
	return nil, false, ErrInvalidPayload
}

func decodeJSONString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return v
	}
	return decoded
}

// extractModelData keeps the keys that are columns of table and that clients
// may write. Structured columns are stored JSON-encoded.
func extractModelData(table *query.TableSchema, def *Definition, data map[string]any) map[string]any {
	ignored := make(map[string]bool, len(def.Ignore))
	for _, k := range def.Ignore {
		ignored[k] = true
	}

	row := make(map[string]any, len(data))
	for k, v := range data {
		col, ok := table.Column(k)
		if !ok || k == def.Key() || managedColumns[k] || ignored[k] {
			continue
		}
		if col.Structured() {
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			row[k] = string(encoded)
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		row[k] = v
	}
	return row
}

// sensitiveFields are always treated as changed when present.
var sensitiveFields = map[string]bool{"password": true}

func diffChanges(current query.Record, data map[string]any) map[string]any {
	changes := make(map[string]any)
	for k, v := range data {
		if sensitiveFields[k] {
			changes[k] = v
			if confirmation, ok := data[k+"_confirmation"]; ok {
				changes[k+"_confirmation"] = confirmation
			}
			continue
		}
		// Keys that are not stored columns still reach the hooks.
		if cur, exists := current[k]; !exists || !looselyEqual(cur, v) {
			changes[k] = v
		}
	}
	return changes
}

// looselyEqual compares a stored value with client input, tolerating the
// usual representation differences ("5" vs 5, timestamps as text).
func looselyEqual(stored, incoming any) bool {
	if stored == nil || incoming == nil {
		return stored == nil && incoming == nil
	}

	switch s := stored.(type) {
	case time.Time:
		text, ok := incoming.(string)
		if !ok {
			return false
		}
		if d, err := time.Parse("2006-01-02", text); err == nil {
			return s.Format("2006-01-02") == d.Format("2006-01-02") &&
				s.Hour() == 0 && s.Minute() == 0 && s.Second() == 0
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, text); err == nil {
				return t.Equal(s)
			}
		}
		return false
	case json.RawMessage:
		var a, b any
		if err := json.Unmarshal(s, &a); err != nil {
			return false
		}
		encoded, err := json.Marshal(incoming)
		if err != nil || json.Unmarshal(encoded, &b) != nil {
			return false
		}
		return reflect.DeepEqual(a, b)
	}

	return fmt.Sprint(stored) == fmt.Sprint(incoming)
}

func strip(rec query.Record, hidden []string) {
	for _, h := range hidden {
		delete(rec, h)
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
