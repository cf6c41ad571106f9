package mcap

import "fmt"

// FramingError indicates a corrupt or truncated byte stream.
type FramingError struct {
	Offset int64
	Reason string
}

func (e FramingError) Error() string {
	return fmt.Sprintf("framing error at offset %d: %s", e.Offset, e.Reason)
}

// PartialRecordError indicates the stream ended in the middle of a record.
// Readers in fallback mode treat this as a clean stop, not a failure.
type PartialRecordError struct {
	Offset int64
	Opcode OpCode
}

func (e PartialRecordError) Error() string {
	return fmt.Sprintf("partial record (opcode 0x%02X) at offset %d", byte(e.Opcode), e.Offset)
}

// UnknownSchemaError indicates a channel referenced a schema id that was
// never seen in the stream.
type UnknownSchemaError struct {
	SchemaID  uint16
	ChannelID uint16
}

func (e UnknownSchemaError) Error() string {
	return fmt.Sprintf("channel %d references unknown schema %d", e.ChannelID, e.SchemaID)
}

// UnknownChannelError indicates a message referenced a channel id that was
// never seen in the stream.
type UnknownChannelError struct {
	ChannelID uint16
}

func (e UnknownChannelError) Error() string {
	return fmt.Sprintf("message references unknown channel %d", e.ChannelID)
}

// UnsupportedCompressionError indicates a chunk declared a codec this
// reader does not implement.
type UnsupportedCompressionError struct {
	Compression string
}

func (e UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("unsupported chunk compression %q", e.Compression)
}

// WriterClosedError indicates a write was attempted after Finish.
type WriterClosedError struct{}

func (WriterClosedError) Error() string { return "writer is finished" }
