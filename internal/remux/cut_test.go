package remux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagtools/remux/internal/config"
	"github.com/bagtools/remux/internal/mcap"
)

// writeCutInput builds an input with a counter topic at whole seconds, a
// static transform and two trigger messages at 2.5s and 2.6s.
func writeCutInput(t *testing.T, path string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	w := mcap.NewWriter(out, mcap.DefaultWriterOptions())
	require.NoError(t, w.Start(mcap.ProfileROS2, "test"))

	intSchema, err := w.AddSchema("std_msgs/msg/Int32", mcap.SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)
	tfSchema, err := w.AddSchema(TFSchemaName, mcap.SchemaEncodingROS2, []byte(TFSchemaText))
	require.NoError(t, err)

	nums, err := w.AddChannel("/nums", mcap.MessageEncodingCDR, intSchema, nil)
	require.NoError(t, err)
	marker, err := w.AddChannel("/marker", mcap.MessageEncodingCDR, intSchema, nil)
	require.NoError(t, err)
	tfStatic, err := w.AddChannel("/tf_static", mcap.MessageEncodingCDR, tfSchema, nil)
	require.NoError(t, err)

	// Messages go in by log time so in-chunk record order matches it.
	writeNum := func(i int) {
		ts := uint64(i+1) * 1_000_000_000
		require.NoError(t, w.AddMessage(nums, uint32(i), ts, ts, []byte{0, 1, 0, 0, byte(i), 0, 0, 0}))
	}
	require.NoError(t, w.AddMessage(tfStatic, 0, 1_000_000_000, 1_000_000_000, []byte{0, 1, 0, 0, 0, 0, 0, 0}))
	writeNum(0)
	writeNum(1)
	require.NoError(t, w.AddMessage(marker, 0, 2_500_000_000, 2_500_000_000, []byte{0, 1, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, w.AddMessage(marker, 1, 2_600_000_000, 2_600_000_000, []byte{0, 1, 0, 0, 0, 0, 0, 0}))
	for i := 2; i < 6; i++ {
		writeNum(i)
	}

	require.NoError(t, w.Finish())
	require.NoError(t, out.Close())
}

func topicCounts(t *testing.T, path string) map[string]int {
	t.Helper()
	counts := map[string]int{}
	for _, msg := range readOutputFile(t, path) {
		counts[msg.topic]++
	}
	return counts
}

func TestCutter_Splits(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.mcap")
	writeCutInput(t, inputPath)

	settings := &config.CutSettings{
		KeepTFTree: true,
		Splits: []config.CutSplit{
			{Start: 1, End: 2, Name: "first"},
			{Start: 3, End: 4, Name: "second"},
		},
	}
	require.NoError(t, settings.Validate())

	outDir := filepath.Join(dir, "out")
	require.NoError(t, NewCutter(settings).Run(inputPath, outDir))

	first := topicCounts(t, filepath.Join(outDir, "first.mcap"))
	assert.Equal(t, 2, first["/nums"])
	// The original static transform inside the window is replaced by the
	// replayed copy, not duplicated.
	assert.Equal(t, 1, first["/tf_static"])

	second := topicCounts(t, filepath.Join(outDir, "second.mcap"))
	assert.Equal(t, 2, second["/nums"])
	assert.Equal(t, 1, second["/tf_static"])
	assert.Zero(t, second["/marker"])
}

func TestCutter_SplitOnTopic(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.mcap")
	writeCutInput(t, inputPath)

	settings := &config.CutSettings{
		SplitOnTopic: &config.CutSplitOn{Topic: "/marker", Debounce: 1},
	}
	require.NoError(t, settings.Validate())

	outDir := filepath.Join(dir, "out")
	require.NoError(t, NewCutter(settings).Run(inputPath, outDir))

	// The second trigger at 2.6s falls inside the debounce window, so only
	// one split happens.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	before := topicCounts(t, filepath.Join(outDir, "00000.mcap"))
	assert.Equal(t, 2, before["/nums"])
	assert.Equal(t, 1, before["/tf_static"])
	assert.Zero(t, before["/marker"])

	after := topicCounts(t, filepath.Join(outDir, "00001.mcap"))
	assert.Equal(t, 4, after["/nums"])
	assert.Equal(t, 2, after["/marker"])
}
