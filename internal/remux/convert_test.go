package remux

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagtools/remux/internal/config"
	"github.com/bagtools/remux/internal/mcap"
	"github.com/bagtools/remux/internal/msgdef"
)

// writeInputFile builds an indexed input with one int32 channel. Payloads
// carry the message index, log times count up in whole seconds.
func writeInputFile(t *testing.T, path, profile string, messages int) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	w := mcap.NewWriter(out, mcap.DefaultWriterOptions())
	require.NoError(t, w.Start(profile, "test"))

	schemaID, err := w.AddSchema("std_msgs/msg/Int32", mcap.SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)
	channelID, err := w.AddChannel("/nums", mcap.MessageEncodingCDR, schemaID, nil)
	require.NoError(t, err)

	for i := 0; i < messages; i++ {
		payload := []byte{0, 1, 0, 0, byte(i), 0, 0, 0}
		ts := uint64(i+1) * 1_000_000_000
		require.NoError(t, w.AddMessage(channelID, uint32(i), ts, ts, payload))
	}
	require.NoError(t, w.Finish())
	require.NoError(t, out.Close())
}

type outputMessage struct {
	topic   string
	schema  string
	logTime uint64
	data    []byte
}

func readOutputFile(t *testing.T, path string) []outputMessage {
	t.Helper()
	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()

	r, err := mcap.NewReader(in)
	require.NoError(t, err)
	iter, err := r.Messages(mcap.ReadOptions{InOrder: true})
	require.NoError(t, err)

	var messages []outputMessage
	for {
		schema, channel, msg, err := iter.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		m := outputMessage{
			topic:   channel.Topic,
			logTime: msg.LogTime,
			data:    append([]byte(nil), msg.Data...),
		}
		if schema != nil {
			m.schema = schema.Name
		}
		messages = append(messages, m)
	}
	return messages
}

func testResolver() *msgdef.Resolver {
	return msgdef.NewResolver(nil, nil, "test")
}

func runConversion(t *testing.T, settings *config.Settings, messages int) (string, []outputMessage) {
	t.Helper()
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.mcap")
	outputPath := filepath.Join(dir, "out.mcap")
	writeInputFile(t, inputPath, mcap.ProfileROS2, messages)

	conv, err := NewConverter(settings, nil, testResolver(), nil, inputPath, outputPath)
	require.NoError(t, err)
	require.NoError(t, conv.ProcessFile())
	require.NoError(t, conv.Finish())

	return outputPath, readOutputFile(t, outputPath)
}

func TestConverter_PassThrough(t *testing.T) {
	_, messages := runConversion(t, config.DefaultSettings(), 3)

	require.Len(t, messages, 3)
	for i, msg := range messages {
		assert.Equal(t, "/nums", msg.topic)
		assert.Equal(t, uint64(i+1)*1_000_000_000, msg.logTime)
		// Untouched input payloads pass through byte for byte.
		assert.Equal(t, []byte{0, 1, 0, 0, byte(i), 0, 0, 0}, msg.data)
	}
}

func TestConverter_DecimationAndMapping(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Topic.Drop = map[string]int{"/nums": 2}
	settings.Topic.Mapping = map[string]string{"/nums": "/numbers"}

	_, messages := runConversion(t, settings, 3)

	require.Len(t, messages, 1)
	assert.Equal(t, "/numbers", messages[0].topic)
	assert.Equal(t, []byte{0, 1, 0, 0, 1, 0, 0, 0}, messages[0].data)
}

func TestConverter_RemoveTopic(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Topic.Remove = []string{"/nums"}

	_, messages := runConversion(t, settings, 3)
	assert.Empty(t, messages)
}

func TestConverter_EndAsDuration(t *testing.T) {
	settings := config.DefaultSettings()
	end := 1.5
	settings.TimeEnd = &end

	// Recording starts at 1s, so a 1.5s duration keeps log times below 2.5s.
	_, messages := runConversion(t, settings, 3)
	require.Len(t, messages, 2)
	assert.Equal(t, uint64(1_000_000_000), messages[0].logTime)
	assert.Equal(t, uint64(2_000_000_000), messages[1].logTime)
}

func TestConverter_StartWindow(t *testing.T) {
	settings := config.DefaultSettings()
	start := 2.0
	settings.TimeStart = &start

	_, messages := runConversion(t, settings, 3)
	require.Len(t, messages, 2)
	assert.Equal(t, uint64(2_000_000_000), messages[0].logTime)
}

func TestConverter_StaticInsert(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.mcap")
	outputPath := filepath.Join(dir, "out.mcap")

	// Input carries its own static transform after the first message.
	f, err := os.Create(inputPath)
	require.NoError(t, err)
	w := mcap.NewWriter(f, mcap.DefaultWriterOptions())
	require.NoError(t, w.Start(mcap.ProfileROS2, "test"))
	intSchema, err := w.AddSchema("std_msgs/msg/Int32", mcap.SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)
	tfSchema, err := w.AddSchema(TFSchemaName, mcap.SchemaEncodingROS2, []byte(TFSchemaText))
	require.NoError(t, err)
	nums, err := w.AddChannel("/nums", mcap.MessageEncodingCDR, intSchema, nil)
	require.NoError(t, err)
	tfStatic, err := w.AddChannel("/tf_static", mcap.MessageEncodingCDR, tfSchema, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddMessage(nums, 0, 1_000_000_000, 1_000_000_000, []byte{0, 1, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, w.AddMessage(tfStatic, 0, 2_000_000_000, 2_000_000_000, []byte{0, 1, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, w.AddMessage(nums, 1, 3_000_000_000, 3_000_000_000, []byte{0, 1, 0, 0, 1, 0, 0, 0}))
	require.NoError(t, w.Finish())
	require.NoError(t, f.Close())

	settings := config.DefaultSettings()
	settings.TFStatic.Insert = []config.SettingTFInsert{
		{
			FrameID:      "base_link",
			ChildFrameID: "lidar",
			Translation:  &config.SettingTranslation{X: 1},
		},
	}

	conv, err := NewConverter(settings, nil, testResolver(), nil, inputPath, outputPath)
	require.NoError(t, err)
	require.NoError(t, conv.ProcessFile())
	require.NoError(t, conv.Finish())
	messages := readOutputFile(t, outputPath)

	byTopic := map[string]int{}
	var transforms []outputMessage
	for _, msg := range messages {
		byTopic[msg.topic]++
		if msg.topic == "/tf_static" {
			transforms = append(transforms, msg)
		}
	}
	assert.Equal(t, 2, byTopic["/nums"])
	// The transform is inserted exactly once, ahead of the input's own
	// static transform.
	require.Len(t, transforms, 2)
	assert.Equal(t, "/tf_static", messages[0].topic)
	assert.Equal(t, uint64(1_000_000_000), transforms[0].logTime)
	assert.Equal(t, uint64(2_000_000_000), transforms[1].logTime)
	assert.Equal(t, []byte{0, 1, 0, 0, 0, 0, 0, 0}, transforms[1].data)

	in, err := os.Open(outputPath)
	require.NoError(t, err)
	defer in.Close()
	r, err := mcap.NewReader(in)
	require.NoError(t, err)
	summary := r.Summary()
	require.NotNil(t, summary)
	for _, channel := range summary.Channels {
		if channel.Topic != "/tf_static" {
			continue
		}
		profiles, err := ParseQoSProfiles(channel.Metadata["offered_qos_profiles"])
		require.NoError(t, err)
		require.NotEmpty(t, profiles)
		assert.Equal(t, DurabilityTransientLocal, profiles[0].Durability)
	}
}

func TestConverter_PluginFanOut(t *testing.T) {
	RegisterPlugin("test.double", func(settings map[string]any) (Plugin, error) {
		return &scalePlugin{factor: 2}, nil
	})
	settings := config.DefaultSettings()
	settings.Plugins = []config.SettingPlugin{
		{Name: "test.double", InputTopic: "/nums", OutputTopic: "/nums_doubled"},
	}

	_, messages := runConversion(t, settings, 2)

	var originals, derived []outputMessage
	for _, msg := range messages {
		switch msg.topic {
		case "/nums":
			originals = append(originals, msg)
		case "/nums_doubled":
			derived = append(derived, msg)
		}
	}
	// Inputs pass through alongside the derived messages.
	require.Len(t, originals, 2)
	require.Len(t, derived, 2)
	for i, msg := range derived {
		assert.Equal(t, "std_msgs/msg/Int32", msg.schema)
		assert.Equal(t, uint64(i+1)*1_000_000_000, msg.logTime)
		assert.Equal(t, []byte{0, 1, 0, 0, byte(2 * i), 0, 0, 0}, msg.data)
	}
}

func TestConverter_PluginFeedsRemovedTopic(t *testing.T) {
	RegisterPlugin("test.double", func(settings map[string]any) (Plugin, error) {
		return &scalePlugin{factor: 2}, nil
	})
	settings := config.DefaultSettings()
	settings.Plugins = []config.SettingPlugin{
		{Name: "test.double", InputTopic: "/nums", OutputTopic: "/nums_doubled"},
	}
	settings.Topic.Remove = []string{"/nums"}

	_, messages := runConversion(t, settings, 2)

	// A removed topic still feeds its plugins, only the originals go away.
	require.Len(t, messages, 2)
	for _, msg := range messages {
		assert.Equal(t, "/nums_doubled", msg.topic)
	}
}

func TestConverter_SaveMetadata(t *testing.T) {
	outputPath, _ := runConversion(t, config.DefaultSettings(), 1)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("remux_config.yaml")))
	assert.True(t, bytes.Contains(data, []byte("remux_metadata")))
}

func TestConverter_UnsupportedProfile(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.mcap")
	writeInputFile(t, inputPath, "protobuf", 1)

	_, err := NewConverter(config.DefaultSettings(), nil, testResolver(), nil, inputPath, filepath.Join(dir, "out.mcap"))
	require.Error(t, err)
	var profileErr UnsupportedProfileError
	assert.ErrorAs(t, err, &profileErr)
	assert.Equal(t, "protobuf", profileErr.Profile)
}

func TestConverter_FinishIdempotent(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.mcap")
	writeInputFile(t, inputPath, mcap.ProfileROS2, 1)

	conv, err := NewConverter(config.DefaultSettings(), nil, testResolver(), nil, inputPath, filepath.Join(dir, "out.mcap"))
	require.NoError(t, err)
	require.NoError(t, conv.ProcessFile())
	require.NoError(t, conv.Finish())
	require.NoError(t, conv.Finish())
}
