package remux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagtools/remux/internal/codec"
	"github.com/bagtools/remux/internal/config"
)

func TestTFSchemaText_Parses(t *testing.T) {
	def, err := codec.ParseDefinition(TFSchemaName, TFSchemaText, false)
	require.NoError(t, err)
	require.Len(t, def.Root.Fields, 1)
	assert.Equal(t, "transforms", def.Root.Fields[0].Name)
}

func TestStaticInsert(t *testing.T) {
	cfg := config.SettingTF{
		Insert: []config.SettingTFInsert{
			{
				FrameID:      "base_link",
				ChildFrameID: "lidar",
				Translation:  &config.SettingTranslation{X: 1.5, Y: 0, Z: 0.25},
			},
			{
				FrameID:      "base_link",
				ChildFrameID: "camera",
				Rotation:     config.SettingRotation{Quaternion: &[4]float64{0, 0, 1, 0}},
			},
		},
	}

	msg := StaticInsert(cfg, 3_000_000_007)
	require.NotNil(t, msg)

	transforms := asSlice(msg["transforms"])
	require.Len(t, transforms, 2)

	first := asMap(transforms[0])
	header := asMap(first["header"])
	assert.Equal(t, "base_link", header["frame_id"])
	stamp := asMap(header["stamp"])
	assert.Equal(t, int32(3), stamp["sec"])
	assert.Equal(t, uint32(7), stamp["nanosec"])
	assert.Equal(t, "lidar", first["child_frame_id"])
	translation := asMap(asMap(first["transform"])["translation"])
	assert.Equal(t, 1.5, translation["x"])

	second := asMap(transforms[1])
	rotation := asMap(asMap(second["transform"])["rotation"])
	assert.Equal(t, float64(1), rotation["z"])
	assert.Equal(t, float64(0), rotation["w"])
}

func TestStaticInsert_Empty(t *testing.T) {
	assert.Nil(t, StaticInsert(config.SettingTF{}, 0))
}

func tfMessage(children ...string) map[string]any {
	transforms := make([]any, 0, len(children))
	for _, child := range children {
		transforms = append(transforms, map[string]any{
			"header":         map[string]any{"frame_id": "map", "stamp": map[string]any{"sec": int32(0), "nanosec": uint32(0)}},
			"child_frame_id": child,
		})
	}
	return map[string]any{"transforms": transforms}
}

func TestRemoveTransforms(t *testing.T) {
	cfg := config.SettingTF{Remove: []string{"old_frame"}}

	msg := tfMessage("old_frame", "base_link")
	keep := RemoveTransforms(cfg, msg)
	assert.True(t, keep)
	transforms := asSlice(msg["transforms"])
	require.Len(t, transforms, 1)
	assert.Equal(t, "base_link", asMap(transforms[0])["child_frame_id"])

	// All transforms removed: caller drops the message.
	msg = tfMessage("old_frame")
	assert.False(t, RemoveTransforms(cfg, msg))
}

func TestRemoveTransforms_NoConfig(t *testing.T) {
	msg := tfMessage("anything")
	assert.True(t, RemoveTransforms(config.SettingTF{}, msg))
	assert.Len(t, asSlice(msg["transforms"]), 1)
}

func TestRestampTransforms(t *testing.T) {
	msg := tfMessage("a", "b", "c")

	next := RestampTransforms(msg, 999_999_998)
	assert.Equal(t, uint64(1_000_000_001), next)

	transforms := asSlice(msg["transforms"])
	stamps := make([]map[string]any, 0, len(transforms))
	for _, tr := range transforms {
		stamps = append(stamps, asMap(asMap(asMap(tr)["header"])["stamp"]))
	}
	assert.Equal(t, int32(0), stamps[0]["sec"])
	assert.Equal(t, uint32(999_999_999), stamps[0]["nanosec"])
	assert.Equal(t, int32(1), stamps[1]["sec"])
	assert.Equal(t, uint32(0), stamps[1]["nanosec"])
	assert.Equal(t, int32(1), stamps[2]["sec"])
	assert.Equal(t, uint32(1), stamps[2]["nanosec"])
}
