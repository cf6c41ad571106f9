package remux

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bagtools/remux/internal/codec"
	"github.com/bagtools/remux/internal/config"
	"github.com/bagtools/remux/internal/logger"
	"github.com/bagtools/remux/internal/mcap"
	"github.com/bagtools/remux/internal/metrics"
	"github.com/bagtools/remux/internal/msgdef"
	"github.com/bagtools/remux/internal/version"
)

// durationThreshold is the boundary below which a configured end time is
// interpreted as a duration from the start instead of an absolute time.
const durationThreshold = 100_000_000

type pluginBinding struct {
	plugin      Plugin
	outputTopic string
}

// Converter transcodes one input file into one output file, applying the
// configured edits along the way.
type Converter struct {
	cfg        *config.Settings
	rawConfig  []byte
	inputPath  string
	outputPath string

	resolver *msgdef.Resolver
	codecs   *codec.Registry
	metrics  *metrics.ConvertMetrics
	log      zerolog.Logger

	in     *os.File
	reader *mcap.Reader
	out    *os.File
	writer *mcap.Writer
	outReg *OutputRegistry

	ros1 bool

	// schemaOut maps input schema names to their registered output schema.
	schemaOut map[string]*mcap.Schema
	// schemaOrig tracks input schemas by id.
	schemaOrig  map[uint16]*mcap.Schema
	channelSeen map[uint16]bool

	dropCount  map[string]int
	tfInserted bool

	// pluginConv maps input topics to their plugin bindings.
	pluginConv map[string][]pluginBinding

	finished bool
}

// NewConverter opens input and output and eagerly registers everything the
// input summary announces. Plugin output schemas that cannot be resolved
// are fatal; input schemas that cannot be transcoded only disable their
// channels.
func NewConverter(cfg *config.Settings, rawConfig []byte, resolver *msgdef.Resolver, m *metrics.ConvertMetrics, inputPath, outputPath string) (*Converter, error) {
	c := &Converter{
		cfg:         cfg,
		rawConfig:   rawConfig,
		inputPath:   inputPath,
		outputPath:  outputPath,
		resolver:    resolver,
		codecs:      codec.NewRegistry(),
		metrics:     m,
		log:         logger.WithComponent("convert"),
		schemaOut:   make(map[string]*mcap.Schema),
		schemaOrig:  make(map[uint16]*mcap.Schema),
		channelSeen: make(map[uint16]bool),
		dropCount:   make(map[string]int),
		pluginConv:  make(map[string][]pluginBinding),
	}

	for _, p := range cfg.Plugins {
		plugin, err := NewPlugin(p.Name, p.Settings)
		if err != nil {
			return nil, err
		}
		c.pluginConv[p.InputTopic] = append(c.pluginConv[p.InputTopic], pluginBinding{
			plugin:      plugin,
			outputTopic: p.OutputTopic,
		})
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return nil, err
	}
	c.in = in

	c.reader, err = mcap.NewReader(in)
	if err != nil {
		in.Close()
		return nil, err
	}

	profile := c.reader.Header().Profile
	switch profile {
	case mcap.ProfileROS1:
		c.ros1 = true
	case mcap.ProfileROS2:
	default:
		in.Close()
		return nil, UnsupportedProfileError{Profile: profile}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		in.Close()
		return nil, err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		in.Close()
		return nil, err
	}
	c.out = out
	c.writer = mcap.NewWriter(out, mcap.DefaultWriterOptions())
	if err := c.writer.Start(mcap.ProfileROS2, "remux "+version.Get().Version); err != nil {
		c.closeFiles()
		return nil, err
	}
	c.outReg = NewOutputRegistry(c.writer)

	if err := c.initSchemas(); err != nil {
		c.closeFiles()
		return nil, err
	}
	c.initChannels()

	return c, nil
}

func (c *Converter) closeFiles() {
	if c.in != nil {
		c.in.Close()
	}
	if c.out != nil {
		c.out.Close()
	}
}

func (c *Converter) initSchemas() error {
	if summary := c.reader.Summary(); summary != nil {
		if len(summary.ChunkIndexes) == 0 {
			c.log.Warn().Msg("no chunk indexes found in summary")
		}
		for _, schema := range summary.Schemas {
			if err := c.addSchema(schema); err != nil {
				return err
			}
		}
	} else {
		c.log.Warn().Str("file", c.inputPath).Msg("broken summary, conversion falls back to a slow linear read")
		c.metrics.RecordLinearScan()
	}

	// Output schemas of plugins must resolve up front.
	for _, bindings := range c.pluginConv {
		for _, b := range bindings {
			name := b.plugin.OutputSchema()
			if _, ok := c.schemaOut[name]; ok {
				continue
			}
			if err := c.registerResolved(name); err != nil {
				return err
			}
		}
	}

	needsTF := len(c.cfg.TFStatic.Insert) > 0
	if _, ok := c.schemaOut[TFSchemaName]; needsTF && !ok {
		if err := c.registerResolved(TFSchemaName); err != nil {
			c.log.Debug().Err(err).Msg("transform schema not resolvable, using the embedded definition")
			id, regErr := c.outReg.Schema(TFSchemaName, mcap.SchemaEncodingROS2, []byte(TFSchemaText))
			if regErr != nil {
				return regErr
			}
			c.schemaOut[TFSchemaName] = &mcap.Schema{
				ID:       id,
				Name:     TFSchemaName,
				Encoding: mcap.SchemaEncodingROS2,
				Data:     []byte(TFSchemaText),
			}
		}
	}

	return nil
}

// registerResolved registers a schema whose definition comes from the
// resolver instead of the input file.
func (c *Converter) registerResolved(name string) error {
	text, err := c.resolver.Resolve(name)
	if err != nil {
		c.log.Error().Err(err).Str("schema", name).Msg("failed to resolve schema definition")
		return SchemaNotFoundError{Name: name}
	}
	id, err := c.outReg.Schema(name, mcap.SchemaEncodingROS2, []byte(text))
	if err != nil {
		return err
	}
	c.schemaOut[name] = &mcap.Schema{
		ID:       id,
		Name:     name,
		Encoding: mcap.SchemaEncodingROS2,
		Data:     []byte(text),
	}
	return nil
}

// addSchema registers the output counterpart of an input schema. Repeated
// calls for the same input id are no-ops.
func (c *Converter) addSchema(schema *mcap.Schema) error {
	if _, ok := c.schemaOrig[schema.ID]; ok {
		return nil
	}
	c.schemaOrig[schema.ID] = schema

	if schema.Encoding != mcap.SchemaEncodingROS1 && schema.Encoding != mcap.SchemaEncodingROS2 {
		c.log.Warn().
			Str("schema", schema.Name).
			Str("encoding", schema.Encoding).
			Msg("unsupported schema encoding, skipping")
		return nil
	}

	name := schema.Name
	if mapped, ok := c.cfg.MsgSchema.Mapping[name]; ok {
		name = mapped
	}

	def := string(schema.Data)
	if override, ok := c.cfg.MsgSchema.Definition[name]; ok {
		def = override
	} else if schema.Encoding == mcap.SchemaEncodingROS1 || name != schema.Name {
		// ROS1 definitions and renamed schemas are replaced by their
		// resolved counterpart so the output stays self-consistent.
		text, err := c.resolver.Resolve(name)
		if err != nil {
			c.log.Error().Err(err).Str("schema", name).Msg("failed to resolve schema definition")
			return SchemaNotFoundError{Name: name}
		}
		def = text
	}

	id, err := c.outReg.Schema(name, mcap.SchemaEncodingROS2, []byte(def))
	if err != nil {
		return err
	}
	c.schemaOut[schema.Name] = &mcap.Schema{
		ID:       id,
		Name:     name,
		Encoding: mcap.SchemaEncodingROS2,
		Data:     []byte(def),
	}
	return nil
}

func (c *Converter) initChannels() {
	if summary := c.reader.Summary(); summary != nil {
		for _, channel := range summary.Channels {
			c.addChannel(channel)
		}
	}
}

// addChannel registers the output counterpart of an input channel, with
// QoS metadata normalized for the output profile.
func (c *Converter) addChannel(channel *mcap.Channel) {
	if c.channelSeen[channel.ID] {
		return
	}
	c.channelSeen[channel.ID] = true

	orig := c.schemaOrig[channel.SchemaID]
	if orig == nil {
		c.log.Warn().Str("topic", channel.Topic).Uint16("schema_id", channel.SchemaID).Msg("channel references unknown schema, skipping")
		return
	}
	outSchema, ok := c.schemaOut[orig.Name]
	if !ok {
		c.log.Warn().Str("topic", channel.Topic).Str("schema", orig.Name).Msg("channel schema not transcodable, skipping")
		return
	}

	if c.removedTopic(channel.Topic) {
		return
	}

	topic := channel.Topic
	if mapped, ok := c.cfg.Topic.Mapping[topic]; ok {
		topic = mapped
	}
	if c.outReg.HasChannel(topic) {
		return
	}

	metadata := make(map[string]string, len(channel.Metadata))
	for k, v := range channel.Metadata {
		metadata[k] = v
	}

	if c.ros1 {
		qos := DefaultQoSProfile()
		if metadata["latching"] != "" && metadata["latching"] != "0" {
			qos.Durability = DurabilityTransientLocal
		}
		if blob, err := DumpQoSProfiles([]QoSProfile{qos}); err == nil {
			metadata = map[string]string{"offered_qos_profiles": blob}
		}
	}

	if topic == "/tf_static" {
		// Static transforms must reach late joiners.
		qos := DefaultQoSProfile()
		if raw := metadata["offered_qos_profiles"]; raw != "" {
			if profiles, err := ParseQoSProfiles(raw); err == nil && len(profiles) > 0 {
				qos = profiles[0]
			}
		}
		qos.Durability = DurabilityTransientLocal
		if blob, err := DumpQoSProfiles([]QoSProfile{qos}); err == nil {
			metadata["offered_qos_profiles"] = blob
		}
	}

	if _, err := c.outReg.Channel(topic, mcap.MessageEncodingCDR, outSchema.ID, metadata); err != nil {
		c.log.Error().Err(err).Str("topic", topic).Msg("failed to register channel")
	}
}

func (c *Converter) removedTopic(topic string) bool {
	for _, t := range c.cfg.Topic.Remove {
		if t == topic {
			return true
		}
	}
	return false
}

// selectedTopics narrows the read to topics that can produce output.
// Without a summary everything is read and filtered per message.
func (c *Converter) selectedTopics() []string {
	summary := c.reader.Summary()
	if summary == nil {
		return nil
	}
	var topics []string
	for _, channel := range summary.Channels {
		keep := true
		if c.removedTopic(channel.Topic) {
			keep = false
		}
		if orig := c.schemaOrig[channel.SchemaID]; orig == nil {
			keep = false
		} else if _, ok := c.schemaOut[orig.Name]; !ok {
			keep = false
		}
		if _, ok := c.pluginConv[channel.Topic]; ok {
			// Removed topics still feed their plugins.
			keep = true
		}
		if keep {
			topics = append(topics, channel.Topic)
		}
	}
	return topics
}

// window resolves the configured time bounds against the recording range.
// A configured end below the duration threshold counts from the start.
// Zero results are unbounded.
func (c *Converter) window(recStartNS, recEndNS uint64) (uint64, uint64) {
	var startNS, endNS uint64
	recStartSec := float64(recStartNS) / 1e9

	if c.cfg.TimeStart != nil {
		start := *c.cfg.TimeStart
		if recStartSec > start {
			start = recStartSec
		}
		startNS = uint64(start * 1e9)
	}

	if c.cfg.TimeEnd != nil {
		end := *c.cfg.TimeEnd
		if end < durationThreshold {
			end = recStartSec + end
		}
		endNS = uint64(end * 1e9)
		if recEndNS > 0 && recEndNS+1 < endNS {
			endNS = recEndNS + 1
		}
	}

	return startNS, endNS
}

// ProcessFile runs the conversion over the whole input.
func (c *Converter) ProcessFile() error {
	started := time.Now()

	var startNS, endNS uint64
	haveWindow := false
	if stats := c.statistics(); stats != nil {
		startNS, endNS = c.window(stats.MessageStartTime, stats.MessageEndTime)
		haveWindow = true
	}

	if c.cfg.KeepAllStaticTF {
		tfStart := startNS
		if tfStart == 0 && c.cfg.TimeStart != nil {
			tfStart = uint64(*c.cfg.TimeStart * 1e9)
		}
		if err := c.collectTFStatic(tfStart); err != nil {
			return err
		}
	}

	topics := c.selectedTopics()
	if summary := c.reader.Summary(); summary != nil && topics != nil {
		c.log.Info().
			Int("topics", len(summary.Channels)).
			Int("selected", len(topics)).
			Msg("starting conversion")
	}

	iter, err := c.reader.Messages(mcap.ReadOptions{
		Topics:  topics,
		Start:   startNS,
		End:     endNS,
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
		if !haveWindow {
			// Unindexed input: derive the window from the first message.
			startNS, endNS = c.window(msg.LogTime, 0)
			haveWindow = true
		}
		if startNS > 0 && msg.LogTime < startNS {
			continue
		}
		if endNS > 0 && msg.LogTime >= endNS {
			break
		}
		if err := c.processMessage(schema, channel, msg); err != nil {
			return err
		}
	}

	c.metrics.RecordFileDuration(time.Since(started))
	return nil
}

func (c *Converter) statistics() *mcap.Statistics {
	if summary := c.reader.Summary(); summary != nil {
		return summary.Statistics
	}
	return nil
}

// collectTFStatic replays every static transform once at the window start,
// re-stamped with strictly increasing timestamps.
func (c *Converter) collectTFStatic(startNS uint64) error {
	iter, err := c.reader.Messages(mcap.ReadOptions{Topics: []string{"/tf_static"}})
	if err != nil {
		return err
	}
	stamp := startNS
	for {
		schema, channel, msg, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if schema == nil {
			continue
		}
		c.addSchema(schema)
		c.addChannel(channel)

		outSchema, ok := c.schemaOut[schema.Name]
		if !ok {
			continue
		}
		decoded := codec.NewDecodedMessage(c.codecs, schema, channel, msg)
		value, err := decoded.Decoded()
		if err != nil {
			c.metrics.RecordDecodeFailure(schema.Name)
			c.log.Warn().Err(err).Str("topic", channel.Topic).Msg("failed to decode static transform")
			continue
		}
		m := asMap(value)
		stamp = RestampTransforms(m, stamp)
		if err := c.writeDecoded(channel.Topic, outSchema, m, msg.Sequence, stamp, stamp); err != nil {
			return err
		}
	}
}

// processMessage applies the configured pipeline to one message: plugins,
// removal, decimation, edits, then the write to the mapped topic.
func (c *Converter) processMessage(schema *mcap.Schema, channel *mcap.Channel, msg *mcap.Message) error {
	topic := channel.Topic
	c.metrics.RecordRead(topic)

	if err := c.addSchema(schema); err != nil {
		return err
	}
	c.addChannel(channel)

	decoded := codec.NewDecodedMessage(c.codecs, schema, channel, msg)

	if offset, ok := c.timeOffsetFor(topic); ok {
		if value, ok := c.decodeOrCount(decoded, schema, topic); ok {
			ApplyTimeOffset(offset, c.codecs.DefinitionFor(schema), msg, value)
		}
	}

	if !c.tfInserted {
		c.tfInserted = true
		if insert := StaticInsert(c.cfg.TFStatic, msg.LogTime); insert != nil {
			if err := c.writeStaticInsert(insert, msg.LogTime); err != nil {
				return err
			}
		}
	}

	for _, b := range c.pluginConv[topic] {
		value, ok := c.decodeOrCount(decoded, schema, topic)
		if !ok {
			break
		}
		converted, err := b.plugin.Convert(value)
		if err != nil {
			return fmt.Errorf("plugin failed on %s: %w", topic, err)
		}
		if converted == nil {
			continue
		}
		outSchema := c.schemaOut[b.plugin.OutputSchema()]
		if err := c.writePlugin(b.outputTopic, outSchema, converted, msg); err != nil {
			return err
		}
	}

	// Removal happens after plugins so removed topics can still feed them.
	if c.removedTopic(topic) {
		c.metrics.RecordDropped(topic, metrics.ReasonRemoved)
		return nil
	}

	if factor, ok := c.cfg.Topic.Drop[topic]; ok {
		count := c.dropCount[topic]
		c.dropCount[topic] = count + 1
		if count%factor == 0 {
			c.metrics.RecordDropped(topic, metrics.ReasonDecimated)
			return nil
		}
	}

	outSchema, ok := c.schemaOut[schema.Name]
	if !ok {
		c.metrics.RecordDropped(topic, metrics.ReasonNoSchema)
		return nil
	}

	switch {
	case topic == "/tf" || topic == "/tf_static":
		tfCfg := c.cfg.TF
		if topic == "/tf_static" {
			tfCfg = c.cfg.TFStatic
		}
		if len(tfCfg.Remove) > 0 {
			value, ok := c.decodeOrCount(decoded, schema, topic)
			if ok && !RemoveTransforms(tfCfg, value) {
				c.metrics.RecordDropped(topic, metrics.ReasonEmptyTF)
				return nil
			}
		}
	case IsPointCloudSchema(schema.Name):
		if pcCfg, ok := c.cfg.PointCloud[topic]; ok {
			if value, ok := c.decodeOrCount(decoded, schema, topic); ok {
				if !ApplyPointCloud(pcCfg, value) {
					c.log.Warn().Str("topic", topic).Msg("point cloud field layout does not fit point_step, skipping edits")
				}
			}
		}
	}

	if frameID, ok := c.cfg.FrameIDMapping[topic]; ok {
		if def := c.codecs.DefinitionFor(schema); def != nil && def.HasHeaderFrameID() {
			if value, ok := c.decodeOrCount(decoded, schema, topic); ok {
				if header := asMap(value["header"]); header != nil {
					header["frame_id"] = frameID
				}
			}
		}
	}

	data, err := c.encodeOut(decoded, outSchema)
	if err != nil {
		c.metrics.RecordDecodeFailure(schema.Name)
		c.log.Warn().Err(err).Str("topic", topic).Msg("failed to re-encode message, dropping")
		return nil
	}

	outTopic := topic
	if mapped, ok := c.cfg.Topic.Mapping[topic]; ok {
		outTopic = mapped
	}
	channelID, ok := c.outReg.ChannelID(outTopic)
	if !ok {
		c.metrics.RecordDropped(topic, metrics.ReasonNoSchema)
		return nil
	}
	if err := c.writer.AddMessage(channelID, msg.Sequence, msg.LogTime, msg.PublishTime, data); err != nil {
		return err
	}
	c.metrics.RecordWritten(outTopic)
	return nil
}

func (c *Converter) timeOffsetFor(topic string) (config.SettingTimeOffset, bool) {
	if offset, ok := c.cfg.TimeOffset[topic]; ok {
		return offset, true
	}
	offset, ok := c.cfg.TimeOffset["default"]
	return offset, ok
}

// decodeOrCount decodes lazily, recording a failure metric once per
// message on error.
func (c *Converter) decodeOrCount(decoded *codec.DecodedMessage, schema *mcap.Schema, topic string) (map[string]any, bool) {
	value, err := decoded.Decoded()
	if err != nil {
		c.metrics.RecordDecodeFailure(schema.Name)
		c.log.Warn().Err(err).Str("topic", topic).Str("schema", schema.Name).Msg("failed to decode message")
		return nil, false
	}
	m := asMap(value)
	return m, m != nil
}

// encodeOut produces the output payload. Untouched ROS2 messages pass
// through unchanged; everything else is re-encoded against the output
// schema.
func (c *Converter) encodeOut(decoded *codec.DecodedMessage, outSchema *mcap.Schema) ([]byte, error) {
	if !decoded.WasDecoded() && decoded.Schema.Encoding == mcap.SchemaEncodingROS2 {
		return decoded.Message.Data, nil
	}
	value, err := decoded.Decoded()
	if err != nil {
		return nil, err
	}
	enc, err := c.codecs.EncoderFor(outSchema)
	if err != nil {
		return nil, err
	}
	return enc(value)
}

func (c *Converter) writeStaticInsert(value map[string]any, logTime uint64) error {
	outSchema, ok := c.schemaOut[TFSchemaName]
	if !ok {
		return SchemaNotFoundError{Name: TFSchemaName}
	}
	return c.writeDecoded("/tf_static", outSchema, value, 0, logTime, logTime)
}

func (c *Converter) writePlugin(topic string, outSchema *mcap.Schema, value map[string]any, src *mcap.Message) error {
	if outSchema == nil {
		return SchemaNotFoundError{Name: topic}
	}
	return c.writeDecoded(topic, outSchema, value, src.Sequence, src.LogTime, src.PublishTime)
}

// writeDecoded encodes a decoded value against an output schema and writes
// it on the topic, registering the channel on first use.
func (c *Converter) writeDecoded(topic string, outSchema *mcap.Schema, value map[string]any, sequence uint32, logTime, publishTime uint64) error {
	enc, err := c.codecs.EncoderFor(outSchema)
	if err != nil {
		return err
	}
	data, err := enc(value)
	if err != nil {
		return err
	}

	metadata := map[string]string{}
	if topic == "/tf_static" {
		qos := DefaultQoSProfile()
		qos.Durability = DurabilityTransientLocal
		if blob, dumpErr := DumpQoSProfiles([]QoSProfile{qos}); dumpErr == nil {
			metadata["offered_qos_profiles"] = blob
		}
	}
	channelID, err := c.outReg.Channel(topic, mcap.MessageEncodingCDR, outSchema.ID, metadata)
	if err != nil {
		return err
	}
	if err := c.writer.AddMessage(channelID, sequence, logTime, publishTime, data); err != nil {
		return err
	}
	c.metrics.RecordWritten(topic)
	return nil
}

// Finish writes the run metadata, the summary section and the trailing
// magic, then closes both files. Safe to call more than once.
func (c *Converter) Finish() error {
	if c.finished {
		return nil
	}
	c.finished = true

	if c.cfg.SaveMetadata {
		now := uint64(time.Now().UnixNano())
		raw := c.rawConfig
		if raw == nil {
			marshaled, err := yaml.Marshal(c.cfg)
			if err == nil {
				raw = marshaled
			}
		}
		if raw != nil {
			if err := c.writer.AddAttachment(&mcap.Attachment{
				LogTime:    now,
				CreateTime: now,
				Name:       "remux_config.yaml",
				MediaType:  "text/yaml",
				Data:       raw,
			}); err != nil {
				return err
			}
		}

		if err := c.writer.AddMetadata("remux_metadata", map[string]string{
			"input_path":  c.inputPath,
			"output_path": c.outputPath,
			"date":        time.Now().UTC().Format(time.RFC3339),
			"version":     version.Get().Version,
			"run_id":      uuid.NewString(),
		}); err != nil {
			return err
		}
	}

	if err := c.writer.Finish(); err != nil {
		return err
	}
	c.closeFiles()
	return nil
}
