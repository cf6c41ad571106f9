package remux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagtools/remux/internal/codec"
	"github.com/bagtools/remux/internal/config"
	"github.com/bagtools/remux/internal/mcap"
)

const headerOnlyDef = `std_msgs/Header header

================================================================================
MSG: std_msgs/Header
builtin_interfaces/Time stamp
string frame_id
`

func headerValue(sec int32, nanosec uint32) map[string]any {
	return map[string]any{
		"header": map[string]any{
			"stamp":    map[string]any{"sec": sec, "nanosec": nanosec},
			"frame_id": "map",
		},
	}
}

func TestApplyTimeOffset_ShiftStamp(t *testing.T) {
	def, err := codec.ParseDefinition("test_msgs/msg/Stamped", headerOnlyDef, false)
	require.NoError(t, err)

	msg := &mcap.Message{LogTime: 50, PublishTime: 40}
	value := headerValue(10, 999_999_999)

	ApplyTimeOffset(config.SettingTimeOffset{Sec: 2, Nanosec: 1}, def, msg, value)

	stamp := asMap(asMap(value["header"])["stamp"])
	assert.Equal(t, int32(13), stamp["sec"])
	assert.Equal(t, uint32(0), stamp["nanosec"])
	// Record times stay put unless explicitly requested.
	assert.Equal(t, uint64(50), msg.LogTime)
	assert.Equal(t, uint64(40), msg.PublishTime)
}

func TestApplyTimeOffset_PubTimeBase(t *testing.T) {
	def, err := codec.ParseDefinition("test_msgs/msg/Stamped", headerOnlyDef, false)
	require.NoError(t, err)

	msg := &mcap.Message{LogTime: 9, PublishTime: 3_000_000_000}
	value := headerValue(999, 0)

	ApplyTimeOffset(config.SettingTimeOffset{
		PubTime:           true,
		Nanosec:           5,
		UpdateLogTime:     true,
		UpdatePublishTime: true,
	}, def, msg, value)

	stamp := asMap(asMap(value["header"])["stamp"])
	assert.Equal(t, int32(3), stamp["sec"])
	assert.Equal(t, uint32(5), stamp["nanosec"])
	assert.Equal(t, uint64(3_000_000_005), msg.LogTime)
	assert.Equal(t, uint64(3_000_000_005), msg.PublishTime)
}

func TestApplyTimeOffset_NilDefinition(t *testing.T) {
	msg := &mcap.Message{LogTime: 1}
	ApplyTimeOffset(config.SettingTimeOffset{Sec: 1, UpdateLogTime: true}, nil, msg, headerValue(0, 0))
	assert.Equal(t, uint64(1), msg.LogTime)
}
