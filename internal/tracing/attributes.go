package tracing

// Span attribute keys for conversion and cut spans
const (
	// File attributes
	AttrInputPath  = "remux.input_path"
	AttrOutputPath = "remux.output_path"
	AttrProfile    = "remux.profile"

	// Conversion attributes
	AttrTopic           = "remux.topic"
	AttrSchema          = "remux.schema"
	AttrMessagesRead    = "remux.messages.read"
	AttrMessagesWritten = "remux.messages.written"

	// Cut attributes
	AttrSplitName  = "remux.split.name"
	AttrSplitCount = "remux.split.count"

	// Operation attributes
	AttrOperation = "remux.operation"
	AttrStatus    = "remux.status"
	AttrError     = "remux.error"
)
