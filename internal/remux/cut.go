package remux

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bagtools/remux/internal/config"
	"github.com/bagtools/remux/internal/logger"
	"github.com/bagtools/remux/internal/mcap"
)

// SplitWriter writes one output slice of a cut. Input records pass through
// byte for byte; schemas and channels are re-registered lazily under new
// ids.
type SplitWriter struct {
	writer *mcap.Writer
	out    *os.File

	schemaLookup  map[uint16]uint16
	channelLookup map[uint16]uint16

	staticTFSet       bool
	staticTFChannelID uint16
	staticTF          [][]byte
}

// NewSplitWriter creates the output file and starts the container.
func NewSplitWriter(path, profile string) (*SplitWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	out, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := mcap.NewWriter(out, mcap.DefaultWriterOptions())
	if err := w.Start(profile, "remux"); err != nil {
		out.Close()
		return nil, err
	}
	return &SplitWriter{
		writer:        w,
		out:           out,
		schemaLookup:  make(map[uint16]uint16),
		channelLookup: make(map[uint16]uint16),
	}, nil
}

// SetStaticTF queues static transforms for replay before the first
// message.
func (w *SplitWriter) SetStaticTF(schema *mcap.Schema, channel *mcap.Channel, data [][]byte) error {
	channelID, err := w.registerChannel(schema, channel)
	if err != nil {
		return err
	}
	w.staticTFSet = true
	w.staticTFChannelID = channelID
	w.staticTF = data
	return nil
}

func (w *SplitWriter) registerSchema(schema *mcap.Schema) (uint16, error) {
	if id, ok := w.schemaLookup[schema.ID]; ok {
		return id, nil
	}
	id, err := w.writer.AddSchema(schema.Name, schema.Encoding, schema.Data)
	if err != nil {
		return 0, err
	}
	w.schemaLookup[schema.ID] = id
	return id, nil
}

func (w *SplitWriter) registerChannel(schema *mcap.Schema, channel *mcap.Channel) (uint16, error) {
	if id, ok := w.channelLookup[channel.ID]; ok {
		return id, nil
	}
	schemaID, err := w.registerSchema(schema)
	if err != nil {
		return 0, err
	}
	id, err := w.writer.AddChannel(channel.Topic, channel.MessageEncoding, schemaID, channel.Metadata)
	if err != nil {
		return 0, err
	}
	w.channelLookup[channel.ID] = id
	return id, nil
}

// WriteMessage writes one message, flushing queued static transforms
// first. Original static transform messages are suppressed once a replay
// is queued.
func (w *SplitWriter) WriteMessage(schema *mcap.Schema, channel *mcap.Channel, msg *mcap.Message) error {
	if w.staticTF != nil {
		for _, data := range w.staticTF {
			if err := w.writer.AddMessage(w.staticTFChannelID, msg.Sequence, msg.LogTime, msg.PublishTime, data); err != nil {
				return err
			}
		}
		w.staticTF = nil
	}

	if w.staticTFSet && channel.Topic == "/tf_static" {
		return nil
	}

	channelID, err := w.registerChannel(schema, channel)
	if err != nil {
		return err
	}
	return w.writer.AddMessage(channelID, msg.Sequence, msg.LogTime, msg.PublishTime, msg.Data)
}

// Finish completes the container and closes the file.
func (w *SplitWriter) Finish() error {
	if err := w.writer.Finish(); err != nil {
		w.out.Close()
		return err
	}
	return w.out.Close()
}

// Cutter splits one input file into multiple outputs.
type Cutter struct {
	settings *config.CutSettings
	log      zerolog.Logger
}

// NewCutter returns a cutter for validated settings.
func NewCutter(settings *config.CutSettings) *Cutter {
	return &Cutter{
		settings: settings,
		log:      logger.WithComponent("cut"),
	}
}

// Run cuts inputPath into files under outputDir.
func (c *Cutter) Run(inputPath, outputDir string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	reader, err := mcap.NewReader(in)
	if err != nil {
		return err
	}

	if len(c.settings.Splits) > 0 {
		return c.runSplits(reader, outputDir)
	}
	return c.runSplitOnTopic(reader, outputDir)
}

// collectTF gathers the static transform schema, channel and payloads for
// replay into each slice.
func (c *Cutter) collectTF(reader *mcap.Reader) (*mcap.Schema, *mcap.Channel, [][]byte, error) {
	summary := reader.Summary()
	if summary == nil || summary.Statistics == nil {
		return nil, nil, nil, nil
	}

	var channel *mcap.Channel
	for _, ch := range summary.Channels {
		if ch.Topic == "/tf_static" {
			channel = ch
			break
		}
	}
	if channel == nil {
		return nil, nil, nil, nil
	}
	if summary.Statistics.ChannelMessageCounts[channel.ID] == 0 {
		return nil, nil, nil, nil
	}
	schema := summary.Schemas[channel.SchemaID]
	if schema == nil {
		return nil, nil, nil, nil
	}

	c.log.Info().Msg("collecting static transforms")
	iter, err := reader.Messages(mcap.ReadOptions{Topics: []string{"/tf_static"}})
	if err != nil {
		return nil, nil, nil, err
	}
	var payloads [][]byte
	for {
		_, _, msg, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, nil, err
		}
		payloads = append(payloads, msg.Data)
	}
	c.log.Info().Int("messages", len(payloads)).Msg("collected static transforms")
	return schema, channel, payloads, nil
}

func (c *Cutter) runSplits(reader *mcap.Reader, outputDir string) error {
	profile := reader.Header().Profile

	var minStart, maxEnd float64
	for i, split := range c.settings.Splits {
		if i == 0 || split.Start < minStart {
			minStart = split.Start
		}
		if split.End > maxEnd {
			maxEnd = split.End
		}
	}

	writers := make([]*SplitWriter, 0, len(c.settings.Splits))
	for _, split := range c.settings.Splits {
		name := split.Name
		if !strings.HasSuffix(name, ".mcap") {
			name += ".mcap"
		}
		w, err := NewSplitWriter(filepath.Join(outputDir, name), profile)
		if err != nil {
			return err
		}
		writers = append(writers, w)
	}

	if c.settings.KeepTFTree {
		schema, channel, payloads, err := c.collectTF(reader)
		if err != nil {
			return err
		}
		if payloads != nil {
			for _, w := range writers {
				if err := w.SetStaticTF(schema, channel, payloads); err != nil {
					return err
				}
			}
		}
	}

	iter, err := reader.Messages(mcap.ReadOptions{
		Start:   uint64(minStart * 1e9),
		End:     uint64(maxEnd*1e9) + 1,
		InOrder: true,
	})
	if err != nil {
		return err
	}

	for {
		schema, channel, msg, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if schema == nil {
			continue
		}
		pubSec := float64(msg.PublishTime) / 1e9
		for i, split := range c.settings.Splits {
			if split.Start <= pubSec && pubSec <= split.End {
				if err := writers[i].WriteMessage(schema, channel, msg); err != nil {
					return err
				}
			}
		}
	}

	for _, w := range writers {
		if err := w.Finish(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cutter) runSplitOnTopic(reader *mcap.Reader, outputDir string) error {
	profile := reader.Header().Profile
	splitOn := c.settings.SplitOnTopic
	debounceNS := uint64(splitOn.Debounce * 1e9)

	var staticSchema *mcap.Schema
	var staticChannel *mcap.Channel
	var staticPayloads [][]byte
	if c.settings.KeepTFTree {
		var err error
		staticSchema, staticChannel, staticPayloads, err = c.collectTF(reader)
		if err != nil {
			return err
		}
	}

	counter := 0
	newWriter := func() (*SplitWriter, error) {
		path := filepath.Join(outputDir, fmt.Sprintf("%05d.mcap", counter))
		w, err := NewSplitWriter(path, profile)
		if err != nil {
			return nil, err
		}
		if staticPayloads != nil {
			if err := w.SetStaticTF(staticSchema, staticChannel, staticPayloads); err != nil {
				return nil, err
			}
		}
		return w, nil
	}

	writer, err := newWriter()
	if err != nil {
		return err
	}

	iter, err := reader.Messages(mcap.ReadOptions{InOrder: true})
	if err != nil {
		return err
	}

	var lastSplitTime uint64
	for {
		schema, channel, msg, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if schema == nil {
			continue
		}

		if channel.Topic == splitOn.Topic && msg.PublishTime-lastSplitTime > debounceNS {
			c.log.Info().Float64("at_sec", float64(msg.PublishTime)/1e9).Msg("found split point")
			lastSplitTime = msg.PublishTime

			if err := writer.Finish(); err != nil {
				return err
			}
			counter++
			writer, err = newWriter()
			if err != nil {
				return err
			}
		}

		if err := writer.WriteMessage(schema, channel, msg); err != nil {
			return err
		}
	}

	return writer.Finish()
}
