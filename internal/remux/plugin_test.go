package remux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scalePlugin struct {
	factor int64
}

func (p *scalePlugin) OutputSchema() string { return "std_msgs/msg/Int32" }

func (p *scalePlugin) Convert(msg map[string]any) (map[string]any, error) {
	data, _ := msg["data"].(int32)
	return map[string]any{"data": int32(int64(data) * p.factor)}, nil
}

func TestPluginRegistry(t *testing.T) {
	RegisterPlugin("test.scale", func(settings map[string]any) (Plugin, error) {
		factor := int64(1)
		if v, ok := settings["factor"]; ok {
			factor = toInt64(v)
		}
		return &scalePlugin{factor: factor}, nil
	})

	plugin, err := NewPlugin("test.scale", map[string]any{"factor": 3})
	require.NoError(t, err)
	assert.Equal(t, "std_msgs/msg/Int32", plugin.OutputSchema())

	out, err := plugin.Convert(map[string]any{"data": int32(7)})
	require.NoError(t, err)
	assert.Equal(t, int32(21), out["data"])

	assert.Contains(t, Plugins(), "test.scale")
}

func TestNewPlugin_Unknown(t *testing.T) {
	_, err := NewPlugin("nope", nil)
	var notFound PluginNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.Name)
}
