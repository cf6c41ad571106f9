package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileJSONSchema compiles a JSON Schema definition.
func compileJSONSchema(definition []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(definition)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// newJSONDecoder returns a decode function for the jsonschema family:
// unmarshal, then validate against the compiled schema.
func newJSONDecoder(schemaName string, compiled *jsonschema.Schema) DecoderFunc {
	return func(data []byte) (any, error) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, DecodeError{Schema: schemaName, Reason: fmt.Sprintf("payload is not valid JSON: %v", err)}
		}
		if err := compiled.Validate(v); err != nil {
			return nil, DecodeError{Schema: schemaName, Reason: err.Error()}
		}
		return v, nil
	}
}

// newJSONEncoder returns the matching encode function: validate, then
// marshal.
func newJSONEncoder(schemaName string, compiled *jsonschema.Schema) EncoderFunc {
	return func(v any) ([]byte, error) {
		if err := compiled.Validate(v); err != nil {
			return nil, EncodeError{Schema: schemaName, Reason: err.Error()}
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, EncodeError{Schema: schemaName, Reason: err.Error()}
		}
		return data, nil
	}
}
