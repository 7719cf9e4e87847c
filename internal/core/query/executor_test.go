package query

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var proposalsResource = &Resource{
	Name:  "propuestas",
	Table: "propuestas",
	Relations: []Relation{
		{Name: "unidad", Kind: BelongsTo, Table: "unidades", ForeignKey: "unidad_id"},
		{
			Name:            "etiquetas",
			Kind:            BelongsToMany,
			Table:           "etiquetas",
			Pivot:           "propuesta_etiqueta",
			PivotOwnerKey:   "propuesta_id",
			PivotRelatedKey: "etiqueta_id",
		},
		{Name: "notas", Kind: HasMany, Table: "notas", ForeignKey: "propuesta_id", Hidden: []string{"interna"}},
	},
	Hidden: []string{"password"},
}

func proposalsSchema() *Schema {
	return NewSchema(
		NewTableSchema("propuestas", []Column{
			{Name: "id", DataType: "bigint"},
			{Name: "titulo", DataType: "character varying"},
			{Name: "unidad_id", DataType: "bigint"},
			{Name: "password", DataType: "character varying"},
			{Name: "metadata", DataType: "jsonb"},
		}),
		NewTableSchema("unidades", []Column{
			{Name: "id", DataType: "bigint"},
			{Name: "nombre", DataType: "character varying"},
		}),
		NewTableSchema("etiquetas", []Column{
			{Name: "id", DataType: "bigint"},
			{Name: "nombre", DataType: "character varying"},
		}),
		NewTableSchema("notas", []Column{
			{Name: "id", DataType: "bigint"},
			{Name: "propuesta_id", DataType: "bigint"},
			{Name: "texto", DataType: "text"},
			{Name: "interna", DataType: "boolean"},
		}),
	)
}

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewExecutor(db), mock
}

func TestExecutor_CountsThenFetchesThePage(t *testing.T) {
	exec, mock := newMockExecutor(t)
	q, err := NewQuery(proposalsResource, proposalsSchema())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "propuestas"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "propuestas".* FROM "propuestas" LIMIT 2 OFFSET 2`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "titulo", "unidad_id", "password", "metadata"}).
			AddRow(int64(3), []byte("Bacheo"), nil, []byte("secreto"), []byte(`{"prioridad":1}`)).
			AddRow(int64(4), []byte("Alumbrado"), nil, []byte("secreto"), nil))

	env, err := exec.Execute(context.Background(), q, PageRequest{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.True(t, env.Status)
	assert.Equal(t, MessageListed, env.Message)
	assert.Equal(t, 5, env.TotalItems)
	assert.Equal(t, 3, env.TotalPages)
	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 2, env.PerPage)
	require.Len(t, env.Data, 2)

	first := env.Data[0]
	assert.Equal(t, "Bacheo", first["titulo"])
	assert.Equal(t, json.RawMessage(`{"prioridad":1}`), first["metadata"])
	assert.NotContains(t, first, "password")
	assert.Nil(t, env.Data[1]["metadata"])
}

func TestExecutor_EmptyPageStillReportsTotals(t *testing.T) {
	exec, mock := newMockExecutor(t)
	q, err := NewQuery(proposalsResource, proposalsSchema())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "propuestas"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT 10 OFFSET 90`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	env, err := exec.Execute(context.Background(), q, PageRequest{Page: 10, PerPage: 10})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []Record{}, env.Data)
	assert.Equal(t, 3, env.TotalItems)
	assert.Equal(t, 1, env.TotalPages)
}

func TestExecutor_CountFailureStopsBeforeFetching(t *testing.T) {
	exec, mock := newMockExecutor(t)
	q, err := NewQuery(proposalsResource, proposalsSchema())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*)`)).
		WillReturnError(errors.New(`relation "propuestas" does not exist`))

	_, err = exec.Execute(context.Background(), q, PageRequest{Page: 1, PerPage: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `relation "propuestas" does not exist`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRelations_GroupsRowsByOwner(t *testing.T) {
	exec, mock := newMockExecutor(t)
	records := []Record{
		{"id": int64(1), "unidad_id": int64(10)},
		{"id": int64(2), "unidad_id": int64(10)},
		{"id": int64(3), "unidad_id": nil},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "r_unidad".* FROM "unidades" AS "r_unidad" WHERE "r_unidad"."id" IN ($1)`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "nombre"}).AddRow(int64(10), []byte("Obras Públicas")))
	mock.ExpectQuery(regexp.QuoteMeta(`"p_etiquetas"."propuesta_id" AS "__pivot_owner" FROM "etiquetas" AS "r_etiquetas"`) +
		`.*` + regexp.QuoteMeta(`WHERE "p_etiquetas"."propuesta_id" IN ($1,$2,$3)`)).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "nombre", "__pivot_owner"}).
			AddRow(int64(7), []byte("urgente"), int64(1)).
			AddRow(int64(8), []byte("obra"), int64(1)).
			AddRow(int64(7), []byte("urgente"), int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "r_notas".* FROM "notas" AS "r_notas" WHERE "r_notas"."propuesta_id" IN ($1,$2,$3)`)).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "propuesta_id", "texto", "interna"}).
			AddRow(int64(100), int64(2), []byte("revisar"), true))

	err := exec.LoadRelations(context.Background(), proposalsResource, proposalsSchema(), records, proposalsResource.Relations)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, Record{"id": int64(10), "nombre": "Obras Públicas"}, records[0]["unidad"])
	assert.Equal(t, records[0]["unidad"], records[1]["unidad"])
	assert.Nil(t, records[2]["unidad"])

	assert.Equal(t, []Record{
		{"id": int64(7), "nombre": "urgente"},
		{"id": int64(8), "nombre": "obra"},
	}, records[0]["etiquetas"])
	assert.Equal(t, []Record{{"id": int64(7), "nombre": "urgente"}}, records[1]["etiquetas"])
	assert.Equal(t, []Record{}, records[2]["etiquetas"])

	assert.Equal(t, []Record{}, records[0]["notas"])
	assert.Equal(t, []Record{{"id": int64(100), "propuesta_id": int64(2), "texto": "revisar"}}, records[1]["notas"])
	assert.Equal(t, []Record{}, records[2]["notas"])
}

func TestLoadRelations_NoKeysMeansNoQuery(t *testing.T) {
	exec, mock := newMockExecutor(t)
	records := []Record{{"id": int64(1), "unidad_id": nil}}
	unidad, _ := proposalsResource.Relation("unidad")

	err := exec.LoadRelations(context.Background(), proposalsResource, proposalsSchema(), records, []Relation{unidad})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Contains(t, records[0], "unidad")
	assert.Nil(t, records[0]["unidad"])
}

func TestLoadRelations_PropagatesStoreErrors(t *testing.T) {
	exec, mock := newMockExecutor(t)
	records := []Record{{"id": int64(1)}}
	notas, _ := proposalsResource.Relation("notas")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "notas"`)).
		WillReturnError(errors.New("canceling statement due to statement timeout"))

	err := exec.LoadRelations(context.Background(), proposalsResource, proposalsSchema(), records, []Relation{notas})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation notas of propuestas")
	assert.Contains(t, err.Error(), "statement timeout")
}
