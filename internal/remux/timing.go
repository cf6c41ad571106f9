package remux

import (
	"github.com/bagtools/remux/internal/codec"
	"github.com/bagtools/remux/internal/config"
	"github.com/bagtools/remux/internal/mcap"
)

// ApplyTimeOffset shifts every timestamp embedded in a decoded message and
// optionally rewrites the record's log and publish times. The message
// record is mutated in place.
func ApplyTimeOffset(cfg config.SettingTimeOffset, def *codec.Definition, msg *mcap.Message, value map[string]any) {
	if def == nil || value == nil {
		return
	}

	codec.WalkTimestamps(def, value, func(stamp map[string]any) {
		var stampNano int64
		if cfg.PubTime {
			stampNano = int64(msg.PublishTime)
		} else {
			stampNano = toInt64(stamp["sec"])*1_000_000_000 + toInt64(stamp["nanosec"])
		}
		stampNano += cfg.Sec*1_000_000_000 + cfg.Nanosec

		stamp["sec"] = int32(stampNano / 1_000_000_000)
		stamp["nanosec"] = uint32(stampNano % 1_000_000_000)

		if cfg.UpdatePublishTime {
			msg.PublishTime = uint64(stampNano)
		}
		if cfg.UpdateLogTime {
			msg.LogTime = uint64(stampNano)
		}
	})
}
