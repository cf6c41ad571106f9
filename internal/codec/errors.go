package codec

import "fmt"

// DefinitionError indicates a message definition failed to compile.
type DefinitionError struct {
	Type   string
	Reason string
}

func (e DefinitionError) Error() string {
	return fmt.Sprintf("invalid definition for %s: %s", e.Type, e.Reason)
}

// UnsupportedEncodingError indicates a schema encoding family this codec
// does not implement.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported schema encoding %q", e.Encoding)
}

// DecodeError indicates a payload does not match its declared schema.
// Failures of this kind are per-message, not fatal to the stream.
type DecodeError struct {
	Schema string
	Reason string
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("cannot decode message with schema %q: %s", e.Schema, e.Reason)
}

// EncodeError indicates a value could not be serialized with its schema.
type EncodeError struct {
	Schema string
	Reason string
}

func (e EncodeError) Error() string {
	return fmt.Sprintf("cannot encode message with schema %q: %s", e.Schema, e.Reason)
}
