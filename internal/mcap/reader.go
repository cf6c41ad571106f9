package mcap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bagtools/remux/internal/logger"
)

// footerLength is opcode + length prefix + fixed footer body.
const footerLength = 1 + 8 + 20

// Summary is the in-memory index of one input file: schemas, channels,
// chunk locations and statistics. Built once from the trailing summary
// section.
type Summary struct {
	Schemas      map[uint16]*Schema
	Channels     map[uint16]*Channel
	ChunkIndexes []*ChunkIndex
	Statistics   *Statistics
}

// ReadOptions filter a message iteration.
type ReadOptions struct {
	// Topics restricts delivery to the named topics. Nil means all topics.
	Topics []string
	// Start and End bound log time in nanoseconds; Start is inclusive,
	// End exclusive. Zero means unbounded.
	Start uint64
	End   uint64
	// InOrder merges chunks by their declared time ranges instead of
	// trusting on-disk order. Only effective when a chunk index exists.
	InOrder bool
}

func (o ReadOptions) matches(topic string, logTime uint64) bool {
	if o.Start > 0 && logTime < o.Start {
		return false
	}
	if o.End > 0 && logTime >= o.End {
		return false
	}
	if o.Topics == nil {
		return true
	}
	for _, t := range o.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// MessageIterator is a pull-based lazy sequence of messages with their
// channel and schema. Next returns io.EOF at the end of the sequence.
type MessageIterator interface {
	Next() (*Schema, *Channel, *Message, error)
}

// Reader reads one container file, preferring chunk-index random access and
// degrading to a linear scan when the summary is missing or unreadable.
type Reader struct {
	rs       io.ReadSeeker
	header   *Header
	summary  *Summary
	fellBack bool
	log      zerolog.Logger
}

// NewReader opens a container stream. A parse failure in the footer or
// summary section degrades to fallback scanning, it is never fatal here.
func NewReader(rs io.ReadSeeker) (*Reader, error) {
	r := &Reader{rs: rs, log: logger.WithComponent("mcap.reader")}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek start: %w", err)
	}
	lex := NewLexer(rs, LexerOptions{EmitChunks: true})
	rec, err := lex.Next()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, ok := rec.(*Header)
	if !ok {
		return nil, FramingError{Offset: 0, Reason: "first record is not a header"}
	}
	r.header = header

	summary, err := readSummary(rs)
	if err != nil {
		r.log.Warn().Err(err).Msg("unreadable summary section, treating file as unindexed")
	}
	r.summary = summary
	return r, nil
}

// Header returns the file header.
func (r *Reader) Header() *Header { return r.header }

// Summary returns the parsed summary, or nil when the file has none.
func (r *Reader) Summary() *Summary { return r.summary }

// readSummary seeks to the tail, reads the footer and parses the summary
// section. Any parse problem returns an error; callers degrade to linear
// scanning.
func readSummary(rs io.ReadSeeker) (*Summary, error) {
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek end: %w", err)
	}
	if end < footerLength+int64(len(Magic))*2 {
		return nil, FramingError{Offset: end, Reason: "file too short for footer"}
	}
	if _, err := rs.Seek(end-footerLength-int64(len(Magic)), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek footer: %w", err)
	}
	buf := make([]byte, footerLength)
	if _, err := io.ReadFull(rs, buf); err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}
	if OpCode(buf[0]) != OpFooter || binary.LittleEndian.Uint64(buf[1:9]) != 20 {
		return nil, FramingError{Offset: end - footerLength, Reason: "malformed footer record"}
	}
	rec, err := ParseRecord(OpFooter, buf[9:])
	if err != nil {
		return nil, FramingError{Offset: end - footerLength, Reason: err.Error()}
	}
	footer := rec.(*Footer)
	if footer.SummaryStart == 0 {
		return nil, nil // valid file, no summary
	}

	if _, err := rs.Seek(int64(footer.SummaryStart), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek summary: %w", err)
	}
	summary := &Summary{
		Schemas:  make(map[uint16]*Schema),
		Channels: make(map[uint16]*Channel),
	}
	lex := NewLexer(rs, LexerOptions{SkipMagic: true, EmitChunks: true})
	for {
		rec, err := lex.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch rec := rec.(type) {
		case *Schema:
			summary.Schemas[rec.ID] = rec
		case *Channel:
			summary.Channels[rec.ID] = rec
		case *ChunkIndex:
			summary.ChunkIndexes = append(summary.ChunkIndexes, rec)
		case *Statistics:
			summary.Statistics = rec
		case *Footer:
			return summary, nil
		}
	}
	return summary, nil
}

// selectChunks returns, in on-disk order, every chunk index intersecting
// the window that contains at least one requested topic. The index is a
// coarse pre-filter; the per-message predicate runs again on chunk contents.
func (r *Reader) selectChunks(opts ReadOptions) []*ChunkIndex {
	var topicIDs map[uint16]bool
	if opts.Topics != nil {
		topicIDs = make(map[uint16]bool)
		for id, ch := range r.summary.Channels {
			for _, t := range opts.Topics {
				if ch.Topic == t {
					topicIDs[id] = true
				}
			}
		}
	}

	var selected []*ChunkIndex
	for _, ci := range r.summary.ChunkIndexes {
		if opts.Start > 0 && ci.MessageEndTime < opts.Start {
			continue
		}
		if opts.End > 0 && ci.MessageStartTime >= opts.End {
			continue
		}
		if topicIDs != nil && len(ci.MessageIndexOffsets) > 0 {
			found := false
			for id := range ci.MessageIndexOffsets {
				if topicIDs[id] {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		selected = append(selected, ci)
	}
	if opts.InOrder {
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].MessageStartTime < selected[j].MessageStartTime
		})
	}
	return selected
}

// Messages starts a message iteration. With a usable chunk index the
// selected chunks are visited directly; otherwise the whole file is scanned
// forward, with a single warning.
func (r *Reader) Messages(opts ReadOptions) (MessageIterator, error) {
	if r.summary != nil && len(r.summary.ChunkIndexes) > 0 {
		return &indexedIterator{
			reader: r,
			opts:   opts,
			chunks: r.selectChunks(opts),
			log:    r.log,
		}, nil
	}
	if !r.fellBack {
		r.fellBack = true
		r.log.Warn().Msg("no usable chunk index, falling back to linear scan")
	}
	if _, err := r.rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek start: %w", err)
	}
	return newLinearIterator(r.rs, opts, r.summary == nil, r.log), nil
}

// indexedIterator visits selected chunks via the chunk index.
type indexedIterator struct {
	reader  *Reader
	opts    ReadOptions
	chunks  []*ChunkIndex
	pos     int
	pending []*Message
	log     zerolog.Logger
}

func (it *indexedIterator) Next() (*Schema, *Channel, *Message, error) {
	for {
		if len(it.pending) > 0 {
			msg := it.pending[0]
			it.pending = it.pending[1:]
			ch := it.reader.summary.Channels[msg.ChannelID]
			if ch == nil {
				return nil, nil, nil, UnknownChannelError{ChannelID: msg.ChannelID}
			}
			var schema *Schema
			if ch.SchemaID != 0 {
				schema = it.reader.summary.Schemas[ch.SchemaID]
				if schema == nil {
					return nil, nil, nil, UnknownSchemaError{SchemaID: ch.SchemaID, ChannelID: ch.ID}
				}
			}
			return schema, ch, msg, nil
		}
		if it.pos >= len(it.chunks) {
			return nil, nil, nil, io.EOF
		}
		ci := it.chunks[it.pos]
		it.pos++
		msgs, err := it.readChunk(ci)
		if err != nil {
			// Degrade per chunk: corrupt chunks are skipped, the rest of
			// the file still gets delivered.
			it.log.Warn().Err(err).Uint64("offset", ci.ChunkStartOffset).Msg("skipping unreadable chunk")
			continue
		}
		it.pending = msgs
	}
}

func (it *indexedIterator) readChunk(ci *ChunkIndex) ([]*Message, error) {
	if _, err := it.reader.rs.Seek(int64(ci.ChunkStartOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek chunk: %w", err)
	}
	lex := NewLexer(it.reader.rs, LexerOptions{SkipMagic: true, EmitChunks: true})
	rec, err := lex.Next()
	if err != nil {
		return nil, err
	}
	chunk, ok := rec.(*Chunk)
	if !ok {
		return nil, FramingError{Offset: int64(ci.ChunkStartOffset), Reason: "chunk index does not point at a chunk"}
	}
	body, err := decompressChunk(chunk.Compression, chunk.Records)
	if err != nil {
		return nil, err
	}

	var msgs []*Message
	inner := NewLexer(bytes.NewReader(body), LexerOptions{SkipMagic: true})
	for {
		rec, err := inner.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		msg, ok := rec.(*Message)
		if !ok {
			continue
		}
		ch := it.reader.summary.Channels[msg.ChannelID]
		if ch == nil || !it.opts.matches(ch.Topic, msg.LogTime) {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// linearIterator is the non-seeking fallback: one forward pass over the
// whole record stream, filtering as records arrive.
type linearIterator struct {
	lex       *Lexer
	opts      ReadOptions
	schemas   map[uint16]*Schema
	channels  map[uint16]*Channel
	tolerant  bool // unindexed input: stop cleanly at the first partial record
	exhausted bool
	log       zerolog.Logger
}

func newLinearIterator(r io.Reader, opts ReadOptions, tolerant bool, log zerolog.Logger) *linearIterator {
	return &linearIterator{
		lex:      NewLexer(r, LexerOptions{}),
		opts:     opts,
		schemas:  make(map[uint16]*Schema),
		channels: make(map[uint16]*Channel),
		tolerant: tolerant,
		log:      log,
	}
}

func (it *linearIterator) Next() (*Schema, *Channel, *Message, error) {
	if it.exhausted {
		return nil, nil, nil, io.EOF
	}
	for {
		rec, err := it.lex.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				it.exhausted = true
				return nil, nil, nil, io.EOF
			}
			var partial PartialRecordError
			if it.tolerant && errors.As(err, &partial) {
				it.exhausted = true
				it.log.Info().Err(err).Msg("unindexed file, stopped at first partial record")
				return nil, nil, nil, io.EOF
			}
			it.exhausted = true
			return nil, nil, nil, err
		}
		switch rec := rec.(type) {
		case *Schema:
			it.schemas[rec.ID] = rec
		case *Channel:
			if rec.SchemaID != 0 && it.schemas[rec.SchemaID] == nil {
				return nil, nil, nil, UnknownSchemaError{SchemaID: rec.SchemaID, ChannelID: rec.ID}
			}
			it.channels[rec.ID] = rec
		case *Message:
			ch := it.channels[rec.ChannelID]
			if ch == nil {
				return nil, nil, nil, UnknownChannelError{ChannelID: rec.ChannelID}
			}
			if !it.opts.matches(ch.Topic, rec.LogTime) {
				continue
			}
			var schema *Schema
			if ch.SchemaID != 0 {
				schema = it.schemas[ch.SchemaID]
			}
			return schema, ch, rec, nil
		}
	}
}
