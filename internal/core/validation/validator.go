package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(msgs, "; ")
}

// Fields groups messages by field, the shape returned to API clients.
func (e *ValidationErrors) Fields() map[string][]string {
	out := make(map[string][]string, len(e.Errors))
	for _, err := range e.Errors {
		out[err.Field] = append(out[err.Field], err.Message)
	}
	return out
}

// Validator checks write payloads against JSON Schema rules.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(data map[string]interface{}, schema map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(dataJSON),
	)
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	var validationErrors []ValidationError
	for _, desc := range result.Errors() {
		field := desc.Field()
		// Missing required properties are reported against the parent object.
		if desc.Type() == "required" {
			if prop, ok := desc.Details()["property"].(string); ok {
				field = prop
			}
		}
		validationErrors = append(validationErrors, ValidationError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	sort.SliceStable(validationErrors, func(i, j int) bool {
		return validationErrors[i].Field < validationErrors[j].Field
	})
	return &ValidationErrors{Errors: validationErrors}
}

// ValidatePartial validates an update payload: required properties are not
// enforced, only the constraints of the fields that are present.
func (v *Validator) ValidatePartial(data map[string]interface{}, schema map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}

	partialSchema := make(map[string]interface{}, len(schema))
	for k, val := range schema {
		if k != "required" {
			partialSchema[k] = val
		}
	}

	return v.Validate(data, partialSchema)
}

func IsValidationError(err error) bool {
	var ve *ValidationErrors
	return errors.As(err, &ve)
}

func GetValidationErrors(err error) *ValidationErrors {
	var ve *ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}
