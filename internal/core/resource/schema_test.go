package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaPropertyMarshal(t *testing.T) {
	tests := []struct {
		name string
		prop *SchemaProperty
		want string
	}{
		{"plain string", stringProp(1, 255), `{"type":"string","minLength":1,"maxLength":255}`},
		{"nullable", nullableString(10), `{"type":["string","null"],"maxLength":10}`},
		{"enum only", enumProp("a", "b"), `{"enum":["a","b"]}`},
		{"minimum", &SchemaProperty{Type: PropertyTypeInteger, Minimum: minimum(1)}, `{"type":"integer","minimum":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.prop)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestCreateAndUpdateRules(t *testing.T) {
	create, update := CreateAndUpdateRules(map[string]*SchemaProperty{
		"nombre": stringProp(1, 0),
	}, "nombre")

	assert.Equal(t, []string{"nombre"}, create["required"])
	assert.NotContains(t, update, "required")
	assert.Equal(t, create["properties"], update["properties"])
}
