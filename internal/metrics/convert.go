package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConvertMetrics tracks per-run transcoding metrics
type ConvertMetrics struct {
	messagesReadTotal    *prometheus.CounterVec
	messagesWrittenTotal *prometheus.CounterVec
	messagesDroppedTotal *prometheus.CounterVec
	decodeFailuresTotal  *prometheus.CounterVec
	linearScansTotal     *prometheus.CounterVec
	fileDuration         prometheus.Histogram
}

// NewConvertMetrics initializes transcoding metrics with the collector
func NewConvertMetrics(collector *Collector) *ConvertMetrics {
	return &ConvertMetrics{
		messagesReadTotal: collector.RegisterCounter(
			MetricMessagesReadTotal,
			"Total number of messages read from input files",
			[]string{LabelTopic},
		),
		messagesWrittenTotal: collector.RegisterCounter(
			MetricMessagesWrittenTotal,
			"Total number of messages written to output files",
			[]string{LabelTopic},
		),
		messagesDroppedTotal: collector.RegisterCounter(
			MetricMessagesDroppedTotal,
			"Total number of messages dropped, by reason",
			[]string{LabelTopic, LabelReason},
		),
		decodeFailuresTotal: collector.RegisterCounter(
			MetricDecodeFailuresTotal,
			"Total number of messages that failed to decode",
			[]string{LabelSchema},
		),
		linearScansTotal: collector.RegisterCounter(
			MetricLinearScansTotal,
			"Total number of files read with a linear scan fallback",
			nil,
		),
		fileDuration: collector.RegisterHistogram(
			MetricFileDuration,
			"Wall-clock duration of one file conversion in seconds",
			[]float64{1, 5, 15, 60, 300, 900, 3600},
		),
	}
}

// RecordRead records one message read from the input
func (m *ConvertMetrics) RecordRead(topic string) {
	if m == nil {
		return
	}
	m.messagesReadTotal.WithLabelValues(topic).Inc()
}

// RecordWritten records one message written to the output
func (m *ConvertMetrics) RecordWritten(topic string) {
	if m == nil {
		return
	}
	m.messagesWrittenTotal.WithLabelValues(topic).Inc()
}

// RecordDropped records one dropped message
func (m *ConvertMetrics) RecordDropped(topic, reason string) {
	if m == nil {
		return
	}
	m.messagesDroppedTotal.WithLabelValues(topic, reason).Inc()
}

// RecordDecodeFailure records one message that failed to decode
func (m *ConvertMetrics) RecordDecodeFailure(schema string) {
	if m == nil {
		return
	}
	m.decodeFailuresTotal.WithLabelValues(schema).Inc()
}

// RecordLinearScan records one file read without a usable index
func (m *ConvertMetrics) RecordLinearScan() {
	if m == nil {
		return
	}
	m.linearScansTotal.WithLabelValues().Inc()
}

// RecordFileDuration records the wall-clock duration of one file
func (m *ConvertMetrics) RecordFileDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.fileDuration.Observe(d.Seconds())
}
