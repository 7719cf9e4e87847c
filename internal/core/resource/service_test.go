package resource

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmr/pmr-api/internal/core/query"
	"github.com/pmr/pmr-api/internal/core/validation"
)

func documentsTable() *query.TableSchema {
	return query.NewTableSchema("propuestas_documentos", []query.Column{
		{Name: "id", DataType: "bigint"},
		{Name: "propuesta_id", DataType: "bigint"},
		{Name: "nombre", DataType: "character varying"},
		{Name: "ruta", DataType: "character varying"},
		{Name: "metadata", DataType: "jsonb"},
		{Name: "created_by", DataType: "bigint"},
		{Name: "created_at", DataType: "timestamp with time zone"},
		{Name: "updated_at", DataType: "timestamp with time zone"},
		{Name: "deleted_at", DataType: "timestamp with time zone"},
	})
}

func TestNormalizePayload(t *testing.T) {
	items, batch, err := normalizePayload(map[string]any{"nombre": "a"})
	require.NoError(t, err)
	assert.False(t, batch)
	assert.Len(t, items, 1)

	items, batch, err = normalizePayload([]any{map[string]any{"nombre": "a"}, map[string]any{"nombre": "b"}})
	require.NoError(t, err)
	assert.True(t, batch)
	assert.Len(t, items, 2)

	items, batch, err = normalizePayload(`[{"nombre":"a"}]`)
	require.NoError(t, err)
	assert.True(t, batch)
	assert.Equal(t, "a", items[0]["nombre"])

	for _, bad := range []any{nil, "texto", 42, []any{}, []any{"a"}} {
		_, _, err := normalizePayload(bad)
		assert.ErrorIs(t, err, ErrInvalidPayload, "payload %v", bad)
	}
}

func TestExtractModelData(t *testing.T) {
	def := PropuestasDocumentos()
	row := extractModelData(documentsTable(), def, map[string]any{
		"id":           99,
		"propuesta_id": 1,
		"nombre":       "acta.pdf",
		"ruta":         "/docs/acta.pdf",
		"metadata":     map[string]any{"paginas": 3},
		"created_at":   "2020-01-01",
		"desconocido":  "x",
	})

	assert.Equal(t, map[string]any{
		"propuesta_id": 1,
		"nombre":       "acta.pdf",
		"ruta":         "/docs/acta.pdf",
		"metadata":     `{"paginas":3}`,
	}, row)
}

func TestExtractModelData_SkipsIgnoredAndNestedScalars(t *testing.T) {
	def := PropuestasDocumentos()
	def.Ignore = []string{"ruta"}

	row := extractModelData(documentsTable(), def, map[string]any{
		"nombre": []any{"no", "escalar"},
		"ruta":   "/x",
	})
	assert.Empty(t, row)
}

func TestDiffChanges(t *testing.T) {
	stamp := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	current := query.Record{
		"id":                 int64(5),
		"nombre":             "acta",
		"propuesta_id":       int64(1),
		"created_at":         stamp,
		"fecha_cumplimiento": time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		"metadata":           json.RawMessage(`{"a":1}`),
		"deleted_at":         nil,
		"password":           "$2a$hash",
	}

	changes := diffChanges(current, map[string]any{
		"id":                    float64(5),
		"nombre":                "acta",
		"propuesta_id":          "1",
		"created_at":            "2025-01-15T10:30:00Z",
		"fecha_cumplimiento":    "2025-02-01",
		"metadata":              map[string]any{"a": 1},
		"deleted_at":            nil,
		"password":              "nueva1234",
		"password_confirmation": "nueva1234",
		"role":                  "solicitante",
	})

	assert.Equal(t, map[string]any{
		"password":              "nueva1234",
		"password_confirmation": "nueva1234",
		"role":                  "solicitante",
	}, changes)

	changes = diffChanges(current, map[string]any{"nombre": "otra", "fecha_cumplimiento": "2025-02-02", "deleted_at": "2025-01-01"})
	assert.Len(t, changes, 3)
}

func TestLooselyEqual(t *testing.T) {
	tests := []struct {
		name     string
		stored   any
		incoming any
		want     bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"int vs float", int64(3), float64(3), true},
		{"int vs string", int64(3), "3", true},
		{"bool", true, true, true},
		{"bool vs string", false, "true", false},
		{"timestamp vs rfc3339", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), "2025-01-01T08:00:00Z", true},
		{"timestamp vs other", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), "2025-01-01T09:00:00Z", false},
		{"timestamp vs number", time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC), 5, false},
		{"json equal", json.RawMessage(`{"b":[1,2]}`), map[string]any{"b": []any{1, 2}}, true},
		{"json differs", json.RawMessage(`{"b":[1,2]}`), map[string]any{"b": []any{2}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, looselyEqual(tt.stored, tt.incoming))
		})
	}
}

func TestAcceptsID(t *testing.T) {
	table := documentsTable()
	assert.True(t, acceptsID(table, "id", "12"))
	assert.False(t, acceptsID(table, "id", "12a"))
	assert.False(t, acceptsID(table, "id", "-1"))
	assert.False(t, acceptsID(table, "id", ""))
	assert.False(t, acceptsID(table, "id", "99999999999999999999"), "beyond bigint")
	assert.False(t, acceptsID(table, "id", "+3"))
	assert.False(t, acceptsID(table, "missing", "1"))
}

func TestBatchValidationError(t *testing.T) {
	err := &BatchValidationError{Items: map[int]map[string][]string{
		0: {"nombre": {"requerido"}},
		3: {"ruta": {"requerido"}},
	}}
	assert.Equal(t, "Se encontraron 2 registros con errores en los datos recibidos", err.Error())
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry(nil)

	paths := []string{}
	for _, d := range reg.All() {
		paths = append(paths, d.Path())
	}
	assert.Equal(t, []string{"propuestas", "propuestas-documentos", "unidades-administrativas", "usuarios"}, paths)

	def, ok := reg.Get("propuestas-documentos")
	require.True(t, ok)
	assert.Equal(t, "propuestas_documentos", def.Table)

	_, ok = reg.Get("nada")
	assert.False(t, ok)

	assert.Error(t, reg.Register(Propuestas()), "duplicate registration")
	assert.Error(t, reg.Register(&Definition{}), "missing name and table")
}

func TestDefinitionRules(t *testing.T) {
	v := validation.NewValidator()
	def := Usuarios(nil)

	err := v.Validate(map[string]any{
		"name":      "Ana",
		"email":     "ana@example.com",
		"password":  "secret123",
		"rfc":       "abcd850101ab1",
		"user_type": "EXTERNO",
		"role":      "solicitante",
	}, def.CreateRules)
	assert.NoError(t, err)

	err = v.Validate(map[string]any{
		"name":      "Ana",
		"email":     "no-es-correo",
		"password":  "corta",
		"rfc":       "123",
		"user_type": "OTRO",
		"role":      "jefe",
	}, def.CreateRules)
	ve := validation.GetValidationErrors(err)
	require.NotNil(t, ve)
	fields := ve.Fields()
	for _, f := range []string{"email", "password", "rfc", "user_type", "role"} {
		assert.Contains(t, fields, f)
	}

	assert.NoError(t, v.ValidatePartial(map[string]any{"name": "Otro"}, def.UpdateRules))

	prop := Propuestas()
	assert.NoError(t, v.Validate(map[string]any{"nombre": "n", "descripcion": "d", "fecha_cumplimiento": "2025-05-01"}, prop.CreateRules))
	assert.Error(t, v.Validate(map[string]any{"nombre": "n", "descripcion": "d", "tipo": "Otro"}, prop.CreateRules))
}
