package remux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagtools/remux/internal/mcap"
)

func startedRegistry(t *testing.T) *OutputRegistry {
	t.Helper()
	w := mcap.NewWriter(&bytes.Buffer{}, mcap.DefaultWriterOptions())
	require.NoError(t, w.Start(mcap.ProfileROS2, "test"))
	return NewOutputRegistry(w)
}

func TestOutputRegistry_SchemaDedup(t *testing.T) {
	reg := startedRegistry(t)

	first, err := reg.Schema("std_msgs/msg/Int32", mcap.SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)
	again, err := reg.Schema("std_msgs/msg/Int32", mcap.SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// Same name, different definition content: distinct schema.
	other, err := reg.Schema("std_msgs/msg/Int32", mcap.SchemaEncodingROS2, []byte("int32 data\nint32 extra"))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestOutputRegistry_ChannelByTopic(t *testing.T) {
	reg := startedRegistry(t)

	schemaID, err := reg.Schema("std_msgs/msg/Int32", mcap.SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)

	assert.False(t, reg.HasChannel("/nums"))
	_, ok := reg.ChannelID("/nums")
	assert.False(t, ok)

	first, err := reg.Channel("/nums", mcap.MessageEncodingCDR, schemaID, nil)
	require.NoError(t, err)
	again, err := reg.Channel("/nums", mcap.MessageEncodingCDR, schemaID, map[string]string{"ignored": "yes"})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	assert.True(t, reg.HasChannel("/nums"))
	id, ok := reg.ChannelID("/nums")
	assert.True(t, ok)
	assert.Equal(t, first, id)
}
