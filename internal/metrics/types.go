package metrics

// Metric names
const (
	MetricMessagesReadTotal    = "remux_messages_read_total"
	MetricMessagesWrittenTotal = "remux_messages_written_total"
	MetricMessagesDroppedTotal = "remux_messages_dropped_total"
	MetricDecodeFailuresTotal  = "remux_decode_failures_total"
	MetricLinearScansTotal     = "remux_linear_scans_total"
	MetricFileDuration         = "remux_file_duration_seconds"
)

// Label names
const (
	LabelTopic  = "topic"
	LabelSchema = "schema"
	LabelReason = "reason"
)

// Drop reasons
const (
	ReasonRemoved   = "removed"
	ReasonDecimated = "decimated"
	ReasonEmptyTF   = "empty_tf"
	ReasonNoSchema  = "no_schema"
)
