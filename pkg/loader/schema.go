package loader

import (
	"reflect"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the graph authoring document.
func Schema() *jsonschema.Schema {
	return reflectSchema(&GraphDocument{}, "Diagnostic graph document")
}

// ExpectationsSchema returns the JSON schema of a standalone expectation
// document.
func ExpectationsSchema() *jsonschema.Schema {
	return reflectSchema(&ExpectationsDocument{}, "Truth-table expectations")
}

func reflectSchema(v any, title string) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper:                    mapType,
	}
	s := reflector.Reflect(v)
	s.Title = title
	return s
}

func mapType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(common.Threshold{}):
		return &jsonschema.Schema{
			Description: "A single number, or a list of numbers for the in operator",
			OneOf: []*jsonschema.Schema{
				{Type: "number"},
				{Type: "array", Items: &jsonschema.Schema{Type: "number"}},
			},
		}
	case reflect.TypeOf(common.Operator("")):
		return &jsonschema.Schema{
			Type: "string",
			Enum: []any{"<", "<=", ">", ">=", "=", "==", "in"},
		}
	case reflect.TypeOf(ValueDescriptions{}):
		return &jsonschema.Schema{
			Description: "Labels for sensor values, as an object or a JSON-encoded string",
			OneOf: []*jsonschema.Schema{
				{Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}},
				{Type: "string"},
			},
		}
	}
	return nil
}
