package mcap

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestFile(t *testing.T, opts WriterOptions, messages int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, opts)
	require.NoError(t, w.Start(ProfileROS2, "test"))

	schemaID, err := w.AddSchema("std_msgs/msg/Int32", SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)
	channelID, err := w.AddChannel("/nums", MessageEncodingCDR, schemaID, nil)
	require.NoError(t, err)

	for i := 0; i < messages; i++ {
		payload := []byte{0, 1, 0, 0, byte(i), 0, 0, 0}
		require.NoError(t, w.AddMessage(channelID, uint32(i), uint64(i+1)*1000, uint64(i+1)*1000, payload))
	}
	require.NoError(t, w.Finish())
	return buf.Bytes()
}

func TestWriter_MagicFraming(t *testing.T) {
	data := buildTestFile(t, DefaultWriterOptions(), 3)

	assert.True(t, bytes.HasPrefix(data, Magic))
	assert.True(t, bytes.HasSuffix(data, Magic))
}

func TestWriter_Reader_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts WriterOptions
	}{
		{name: "zstd", opts: WriterOptions{ChunkSize: 1024, Compression: CompressionZstd, IncludeCRC: true}},
		{name: "lz4", opts: WriterOptions{ChunkSize: 1024, Compression: CompressionLZ4, IncludeCRC: true}},
		{name: "uncompressed", opts: WriterOptions{ChunkSize: 1024, Compression: CompressionNone, IncludeCRC: true}},
		{name: "no crc", opts: WriterOptions{ChunkSize: 1024, Compression: CompressionZstd, IncludeCRC: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildTestFile(t, tt.opts, 5)

			r, err := NewReader(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, ProfileROS2, r.Header().Profile)

			summary := r.Summary()
			require.NotNil(t, summary)
			require.NotNil(t, summary.Statistics)
			assert.Equal(t, uint64(5), summary.Statistics.MessageCount)
			assert.Equal(t, uint64(1000), summary.Statistics.MessageStartTime)
			assert.Equal(t, uint64(5000), summary.Statistics.MessageEndTime)
			require.Len(t, summary.Schemas, 1)
			require.Len(t, summary.Channels, 1)

			iter, err := r.Messages(ReadOptions{})
			require.NoError(t, err)
			var logTimes []uint64
			for {
				schema, channel, msg, err := iter.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				assert.Equal(t, "std_msgs/msg/Int32", schema.Name)
				assert.Equal(t, "/nums", channel.Topic)
				logTimes = append(logTimes, msg.LogTime)
			}
			assert.Equal(t, []uint64{1000, 2000, 3000, 4000, 5000}, logTimes)
		})
	}
}

func TestWriter_ChunkRollover(t *testing.T) {
	// A tiny chunk size forces one chunk per message.
	data := buildTestFile(t, WriterOptions{ChunkSize: 1, Compression: CompressionZstd, IncludeCRC: true}, 4)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	require.NotNil(t, r.Summary())
	assert.Len(t, r.Summary().ChunkIndexes, 4)

	iter, err := r.Messages(ReadOptions{})
	require.NoError(t, err)
	count := 0
	for {
		_, _, _, err := iter.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 4, count)
}

func TestReader_TimeAndTopicFilter(t *testing.T) {
	data := buildTestFile(t, DefaultWriterOptions(), 5)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	tests := []struct {
		name string
		opts ReadOptions
		want int
	}{
		{name: "all", opts: ReadOptions{}, want: 5},
		{name: "start inclusive", opts: ReadOptions{Start: 3000}, want: 3},
		{name: "end exclusive", opts: ReadOptions{End: 3000}, want: 2},
		{name: "window", opts: ReadOptions{Start: 2000, End: 4000}, want: 2},
		{name: "topic match", opts: ReadOptions{Topics: []string{"/nums"}}, want: 5},
		{name: "topic miss", opts: ReadOptions{Topics: []string{"/other"}}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iter, err := r.Messages(tt.opts)
			require.NoError(t, err)
			count := 0
			for {
				_, _, _, err := iter.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				count++
			}
			assert.Equal(t, tt.want, count)
		})
	}
}

func TestReader_IndexedAndLinearScanAgree(t *testing.T) {
	// Two topics spread over several chunks, so the indexed path has
	// chunks to select and skip.
	var buf bytes.Buffer
	w := NewWriter(&buf, WriterOptions{ChunkSize: 64, Compression: CompressionZstd, IncludeCRC: true})
	require.NoError(t, w.Start(ProfileROS2, "test"))
	schemaID, err := w.AddSchema("std_msgs/msg/Int32", SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)
	evens, err := w.AddChannel("/evens", MessageEncodingCDR, schemaID, nil)
	require.NoError(t, err)
	odds, err := w.AddChannel("/odds", MessageEncodingCDR, schemaID, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		ch := evens
		if i%2 == 1 {
			ch = odds
		}
		ts := uint64(i+1) * 1000
		require.NoError(t, w.AddMessage(ch, uint32(i), ts, ts, []byte{0, 1, 0, 0, byte(i), 0, 0, 0}))
	}
	require.NoError(t, w.Finish())
	data := buf.Bytes()

	collect := func(t *testing.T, iter MessageIterator) []string {
		t.Helper()
		var got []string
		for {
			_, channel, msg, err := iter.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, fmt.Sprintf("%s@%d:%x", channel.Topic, msg.LogTime, msg.Data))
		}
		return got
	}

	tests := []struct {
		name string
		opts ReadOptions
	}{
		{name: "all", opts: ReadOptions{}},
		{name: "window", opts: ReadOptions{Start: 3000, End: 8000}},
		{name: "topic", opts: ReadOptions{Topics: []string{"/odds"}}},
		{name: "topic and window", opts: ReadOptions{Topics: []string{"/evens"}, Start: 2000, End: 9000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(bytes.NewReader(data))
			require.NoError(t, err)
			require.NotNil(t, r.Summary())
			require.Greater(t, len(r.Summary().ChunkIndexes), 1)

			indexed, err := r.Messages(tt.opts)
			require.NoError(t, err)
			linear := newLinearIterator(bytes.NewReader(data), tt.opts, false, r.log)

			want := collect(t, linear)
			assert.Equal(t, want, collect(t, indexed))
			if tt.name == "all" {
				assert.Len(t, want, 10)
			}
		})
	}
}

func TestReader_LinearFallback(t *testing.T) {
	data := buildTestFile(t, DefaultWriterOptions(), 3)

	// Truncating before the footer leaves no usable summary.
	truncated := data[:len(data)-footerLength-len(Magic)-200]

	r, err := NewReader(bytes.NewReader(truncated))
	require.NoError(t, err)
	assert.Nil(t, r.Summary())

	iter, err := r.Messages(ReadOptions{})
	require.NoError(t, err)
	count := 0
	for {
		_, _, _, err := iter.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	// The complete chunks before the cut still deliver their messages.
	assert.Equal(t, 3, count)
}

func TestWriter_AttachmentAndMetadata(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, DefaultWriterOptions())
	require.NoError(t, w.Start(ProfileROS2, "test"))

	require.NoError(t, w.AddAttachment(&Attachment{
		LogTime:   42,
		Name:      "config.yaml",
		MediaType: "text/yaml",
		Data:      []byte("a: 1\n"),
	}))
	require.NoError(t, w.AddMetadata("info", map[string]string{"k": "v"}))
	require.NoError(t, w.Finish())

	lex := NewLexer(bytes.NewReader(buf.Bytes()), LexerOptions{})
	var names []string
	for {
		rec, err := lex.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch rec := rec.(type) {
		case *Attachment:
			names = append(names, "attachment:"+rec.Name)
			assert.Equal(t, []byte("a: 1\n"), rec.Data)
		case *Metadata:
			names = append(names, "metadata:"+rec.Name)
			assert.Equal(t, map[string]string{"k": "v"}, rec.Metadata)
		}
	}
	assert.Equal(t, []string{"attachment:config.yaml", "metadata:info"}, names)
}

func TestWriter_FinishIdempotent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, DefaultWriterOptions())
	require.NoError(t, w.Start(ProfileROS2, "test"))
	require.NoError(t, w.Finish())
	size := buf.Len()
	require.NoError(t, w.Finish())
	assert.Equal(t, size, buf.Len())
}

func TestWriter_MultipleChannels(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, DefaultWriterOptions())
	require.NoError(t, w.Start(ProfileROS2, "test"))

	schemaID, err := w.AddSchema("std_msgs/msg/Int32", SchemaEncodingROS2, []byte("int32 data"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		channelID, err := w.AddChannel(fmt.Sprintf("/topic%d", i), MessageEncodingCDR, schemaID, nil)
		require.NoError(t, err)
		assert.Equal(t, uint16(i), channelID)
		require.NoError(t, w.AddMessage(channelID, 0, uint64(i+1), uint64(i+1), []byte{0, 1, 0, 0}))
	}
	require.NoError(t, w.Finish())

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NotNil(t, r.Summary())
	assert.Len(t, r.Summary().Channels, 3)
	assert.Equal(t, uint64(1), r.Summary().Statistics.ChannelMessageCounts[0])
}
