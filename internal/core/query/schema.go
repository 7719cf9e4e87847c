package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pmr/pmr-api/internal/storage/postgres"
)

var ErrUnknownResource = errors.New("unknown resource")

type StorageType int

const (
	Scalar StorageType = iota
	Structured
)

type ColumnKind int

const (
	KindText ColumnKind = iota
	KindNumeric
	KindBoolean
	KindTemporal
	KindUUID
	KindStructured
)

// Column is one row of information_schema.columns.
type Column struct {
	Name     string
	DataType string
	UDTName  string
}

func (c Column) Kind() ColumnKind {
	switch c.DataType {
	case "json", "jsonb", "ARRAY":
		return KindStructured
	case "smallint", "integer", "bigint", "numeric", "decimal", "real", "double precision":
		return KindNumeric
	case "boolean":
		return KindBoolean
	case "date", "timestamp without time zone", "timestamp with time zone",
		"time without time zone", "time with time zone":
		return KindTemporal
	case "uuid":
		return KindUUID
	default:
		return KindText
	}
}

func (c Column) StorageType() StorageType {
	if c.Kind() == KindStructured {
		return Structured
	}
	return Scalar
}

func (c Column) Structured() bool {
	return c.StorageType() == Structured
}

var (
	dateLayouts      = []string{"2006-01-02"}
	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	timeLayouts = []string{
		"15:04:05Z07:00",
		"15:04:05",
		"15:04",
	}
)

// decimalPattern is the plain decimal notation Postgres accepts for
// numeric, real and double precision. NaN, Infinity and hex forms are left
// out.
var decimalPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// IsValidText reports whether v can be sent as a text parameter: Postgres
// rejects invalid UTF-8 and NUL bytes.
func IsValidText(v string) bool {
	return utf8.ValidString(v) && !strings.ContainsRune(v, 0)
}

// Accepts reports whether the column can be compared against value without
// the database rejecting the statement.
func (c Column) Accepts(value string) bool {
	if !IsValidText(value) {
		return false
	}
	value = strings.TrimSpace(value)
	switch c.Kind() {
	case KindNumeric:
		return c.acceptsNumber(value)
	case KindBoolean:
		switch strings.ToLower(value) {
		case "t", "f", "true", "false", "1", "0", "yes", "no", "on", "off":
			return true
		}
		return false
	case KindTemporal:
		return c.acceptsTemporal(value)
	case KindUUID:
		// uuid.Parse also takes the urn:uuid: form, which Postgres does not.
		if len(value) > 38 {
			return false
		}
		_, err := uuid.Parse(value)
		return err == nil
	case KindStructured:
		return false
	default:
		return true
	}
}

func (c Column) acceptsNumber(value string) bool {
	switch c.DataType {
	case "smallint":
		_, err := strconv.ParseInt(value, 10, 16)
		return err == nil
	case "integer":
		_, err := strconv.ParseInt(value, 10, 32)
		return err == nil
	case "bigint":
		_, err := strconv.ParseInt(value, 10, 64)
		return err == nil
	}

	if !decimalPattern.MatchString(value) {
		return false
	}
	bits := 64
	if c.DataType == "real" {
		bits = 32
	}
	_, err := strconv.ParseFloat(value, bits)
	return err == nil
}

func (c Column) acceptsTemporal(value string) bool {
	layouts := timestampLayouts
	switch c.DataType {
	case "date":
		layouts = dateLayouts
	case "time without time zone", "time with time zone":
		return parsesAny(timeLayouts, value)
	}

	for _, layout := range layouts {
		// Postgres has no year zero.
		if t, err := time.Parse(layout, value); err == nil && t.Year() >= 1 {
			return true
		}
	}
	return false
}

func parsesAny(layouts []string, value string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// Introspector reads the live column listing of a table.
type Introspector interface {
	Columns(ctx context.Context, table string) ([]Column, error)
}

// TableSchema is the column listing of one table taken at the start of a request.
type TableSchema struct {
	Table   string
	columns []Column
	index   map[string]Column
}

func NewTableSchema(table string, columns []Column) *TableSchema {
	index := make(map[string]Column, len(columns))
	for _, c := range columns {
		index[c.Name] = c
	}
	return &TableSchema{Table: table, columns: columns, index: index}
}

// Without returns a copy of t that does not know the named columns.
func (t *TableSchema) Without(names []string) *TableSchema {
	if len(names) == 0 {
		return t
	}
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	columns := make([]Column, 0, len(t.columns))
	for _, c := range t.columns {
		if !skip[c.Name] {
			columns = append(columns, c)
		}
	}
	return NewTableSchema(t.Table, columns)
}

func (t *TableSchema) Column(name string) (Column, bool) {
	c, ok := t.index[name]
	return c, ok
}

func (t *TableSchema) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

func (t *TableSchema) Columns() []Column {
	return t.columns
}

func (t *TableSchema) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnType returns the storage type of a column; ok is false for unknown columns.
func (t *TableSchema) ColumnType(name string) (StorageType, bool) {
	c, ok := t.index[name]
	if !ok {
		return Scalar, false
	}
	return c.StorageType(), true
}

// Schema holds the tables a resource's query can touch: its own and the
// tables of its declared relations.
type Schema struct {
	tables map[string]*TableSchema
}

func NewSchema(tables ...*TableSchema) *Schema {
	s := &Schema{tables: make(map[string]*TableSchema, len(tables))}
	for _, t := range tables {
		s.tables[t.Table] = t
	}
	return s
}

func (s *Schema) Table(name string) (*TableSchema, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// LoadSchema introspects the resource table and every related table.
func LoadSchema(ctx context.Context, in Introspector, res *Resource) (*Schema, error) {
	tables := []string{res.Table}
	for _, rel := range res.Relations {
		tables = append(tables, rel.Table)
	}

	s := &Schema{tables: make(map[string]*TableSchema, len(tables))}
	for _, table := range tables {
		if _, seen := s.tables[table]; seen {
			continue
		}
		t, err := LoadTable(ctx, in, table)
		if err != nil {
			return nil, err
		}
		s.tables[table] = t
	}
	return s, nil
}

func LoadTable(ctx context.Context, in Introspector, table string) (*TableSchema, error) {
	columns, err := in.Columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, table)
	}
	return NewTableSchema(table, columns), nil
}

// PostgresIntrospector queries information_schema on every call so newly
// migrated columns are visible without a restart.
type PostgresIntrospector struct {
	db *postgres.Client
}

func NewPostgresIntrospector(db *postgres.Client) *PostgresIntrospector {
	return &PostgresIntrospector{db: db}
}

func (p *PostgresIntrospector) Columns(ctx context.Context, table string) ([]Column, error) {
	query := `
		SELECT column_name, data_type, udt_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`

	rows, err := p.db.DB.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.UDTName); err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}
