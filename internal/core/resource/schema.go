package resource

import "encoding/json"

// JSON Schema property types
type PropertyType string

const (
	PropertyTypeString  PropertyType = "string"
	PropertyTypeNumber  PropertyType = "number"
	PropertyTypeInteger PropertyType = "integer"
	PropertyTypeBoolean PropertyType = "boolean"
	PropertyTypeArray   PropertyType = "array"
	PropertyTypeObject  PropertyType = "object"
)

// SchemaProperty describes one column of a write payload. Nullable widens
// the type to also accept JSON null.
type SchemaProperty struct {
	Type        PropertyType    `json:"-"`
	Nullable    bool            `json:"-"`
	Description string          `json:"description,omitempty"`
	Format      string          `json:"format,omitempty"`
	Pattern     string          `json:"pattern,omitempty"`
	MinLength   int             `json:"minLength,omitempty"`
	MaxLength   int             `json:"maxLength,omitempty"`
	Minimum     *float64        `json:"minimum,omitempty"`
	Enum        []interface{}   `json:"enum,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

func (p SchemaProperty) MarshalJSON() ([]byte, error) {
	type plain SchemaProperty
	out := struct {
		Type interface{} `json:"type,omitempty"`
		plain
	}{plain: plain(p)}

	switch {
	case p.Type == "":
	case p.Nullable:
		out.Type = []string{string(p.Type), "null"}
	default:
		out.Type = p.Type
	}
	return json.Marshal(out)
}

// NewSchema builds the object schema used for create rules.
func NewSchema(properties map[string]*SchemaProperty, required ...string) map[string]interface{} {
	props := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		props[k] = v
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// CreateAndUpdateRules returns the create schema and its update counterpart,
// which shares the properties but requires nothing.
func CreateAndUpdateRules(properties map[string]*SchemaProperty, required ...string) (create, update map[string]interface{}) {
	return NewSchema(properties, required...), NewSchema(properties)
}

func stringProp(min, max int) *SchemaProperty {
	return &SchemaProperty{Type: PropertyTypeString, MinLength: min, MaxLength: max}
}

func nullableString(max int) *SchemaProperty {
	return &SchemaProperty{Type: PropertyTypeString, Nullable: true, MaxLength: max}
}

func enumProp(values ...string) *SchemaProperty {
	enum := make([]interface{}, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &SchemaProperty{Enum: enum}
}

func minimum(n float64) *float64 { return &n }
