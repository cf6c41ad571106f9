package mcap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
)

// recordBuffer builds one record body.
type recordBuffer struct {
	bytes.Buffer
}

func (b *recordBuffer) u8(v uint8) { b.WriteByte(v) }

func (b *recordBuffer) u16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func (b *recordBuffer) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func (b *recordBuffer) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

func (b *recordBuffer) str(s string) {
	b.u32(uint32(len(s)))
	b.WriteString(s)
}

func (b *recordBuffer) strMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var inner recordBuffer
	for _, k := range keys {
		inner.str(k)
		inner.str(m[k])
	}
	b.u32(uint32(inner.Len()))
	b.Write(inner.Bytes())
}

func appendRecord(dst io.Writer, op OpCode, body []byte) error {
	var head [9]byte
	head[0] = byte(op)
	binary.LittleEndian.PutUint64(head[1:], uint64(len(body)))
	if _, err := dst.Write(head[:]); err != nil {
		return err
	}
	_, err := dst.Write(body)
	return err
}

// countingWriter tracks the byte offset and a resettable running CRC of
// everything written through it.
type countingWriter struct {
	w      io.Writer
	offset int64
	crc    uint32
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.offset += int64(n)
	cw.crc = crc32.Update(cw.crc, crc32.IEEETable, p[:n])
	return n, err
}

func (cw *countingWriter) resetCRC() { cw.crc = 0 }

// WriterOptions configure output framing.
type WriterOptions struct {
	// ChunkSize is the uncompressed chunk flush threshold in bytes.
	ChunkSize int64
	// Compression is the chunk codec identifier.
	Compression string
	// IncludeCRC enables chunk, data-section and summary CRCs.
	IncludeCRC bool
}

// DefaultWriterOptions match the output framing of the standard tooling.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		ChunkSize:   1024 * 1024,
		Compression: CompressionZstd,
		IncludeCRC:  true,
	}
}

// chunkBuilder accumulates records for the current chunk.
type chunkBuilder struct {
	buf      bytes.Buffer
	indexes  map[uint16][]MessageIndexEntry
	start    uint64
	end      uint64
	messages int
}

func newChunkBuilder() *chunkBuilder {
	return &chunkBuilder{indexes: make(map[uint16][]MessageIndexEntry)}
}

func (cb *chunkBuilder) addRecord(op OpCode, body []byte) {
	// Writing into a bytes.Buffer cannot fail.
	_ = appendRecord(&cb.buf, op, body)
}

func (cb *chunkBuilder) addMessage(channelID uint16, logTime uint64, body []byte) {
	offset := uint64(cb.buf.Len())
	cb.addRecord(OpMessage, body)
	cb.indexes[channelID] = append(cb.indexes[channelID], MessageIndexEntry{LogTime: logTime, Offset: offset})
	if cb.messages == 0 || logTime < cb.start {
		cb.start = logTime
	}
	if logTime > cb.end {
		cb.end = logTime
	}
	cb.messages++
}

// Writer emits one container file, forward-only, chunked, with message
// indexes, chunk indexes, statistics and a summary section. Logical
// deduplication of schemas and channels is the caller's concern; the writer
// only assigns ids monotonically.
type Writer struct {
	out           *countingWriter
	opts          WriterOptions
	started       bool
	finished      bool
	nextSchemaID  uint16
	nextChannelID uint16
	schemas       []*Schema
	channels      []*Channel
	chunk         *chunkBuilder
	chunkIndexes  []*ChunkIndex
	attIndexes    []*AttachmentIndex
	metaIndexes   []*MetadataIndex
	stats         Statistics
}

// NewWriter wraps an output stream. Start must be called before any other
// write.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultWriterOptions().ChunkSize
	}
	return &Writer{
		out:   &countingWriter{w: w},
		opts:  opts,
		chunk: newChunkBuilder(),
		stats: Statistics{ChannelMessageCounts: make(map[uint16]uint64)},
	}
}

// Start writes the leading magic and header record.
func (w *Writer) Start(profile, library string) error {
	if w.started {
		return nil
	}
	w.started = true
	if _, err := w.out.Write(Magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	var body recordBuffer
	body.str(profile)
	body.str(library)
	return appendRecord(w.out, OpHeader, body.Bytes())
}

// AddSchema writes a schema record and returns its assigned id. Ids start
// at 1; zero is reserved for schema-less channels.
func (w *Writer) AddSchema(name, encoding string, data []byte) (uint16, error) {
	if w.finished {
		return 0, WriterClosedError{}
	}
	w.nextSchemaID++
	schema := &Schema{ID: w.nextSchemaID, Name: name, Encoding: encoding, Data: data}
	w.schemas = append(w.schemas, schema)
	w.chunk.addRecord(OpSchema, schemaBody(schema))
	return schema.ID, nil
}

// AddChannel writes a channel record and returns its assigned id.
func (w *Writer) AddChannel(topic, messageEncoding string, schemaID uint16, metadata map[string]string) (uint16, error) {
	if w.finished {
		return 0, WriterClosedError{}
	}
	ch := &Channel{
		ID:              w.nextChannelID,
		SchemaID:        schemaID,
		Topic:           topic,
		MessageEncoding: messageEncoding,
		Metadata:        metadata,
	}
	w.nextChannelID++
	w.channels = append(w.channels, ch)
	w.chunk.addRecord(OpChannel, channelBody(ch))
	return ch.ID, nil
}

// AddMessage writes one message record into the current chunk.
func (w *Writer) AddMessage(channelID uint16, sequence uint32, logTime, publishTime uint64, data []byte) error {
	if w.finished {
		return WriterClosedError{}
	}
	var body recordBuffer
	body.u16(channelID)
	body.u32(sequence)
	body.u64(logTime)
	body.u64(publishTime)
	body.Write(data)
	w.chunk.addMessage(channelID, logTime, body.Bytes())

	w.stats.MessageCount++
	w.stats.ChannelMessageCounts[channelID]++
	if w.stats.MessageCount == 1 || logTime < w.stats.MessageStartTime {
		w.stats.MessageStartTime = logTime
	}
	if logTime > w.stats.MessageEndTime {
		w.stats.MessageEndTime = logTime
	}

	if int64(w.chunk.buf.Len()) >= w.opts.ChunkSize {
		return w.flushChunk()
	}
	return nil
}

// AddAttachment writes an attachment record outside any chunk.
func (w *Writer) AddAttachment(a *Attachment) error {
	if w.finished {
		return WriterClosedError{}
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	offset := uint64(w.out.offset)
	var body recordBuffer
	body.u64(a.LogTime)
	body.u64(a.CreateTime)
	body.str(a.Name)
	body.str(a.MediaType)
	body.u64(uint64(len(a.Data)))
	body.Write(a.Data)
	crc := uint32(0)
	if w.opts.IncludeCRC {
		crc = crc32.ChecksumIEEE(body.Bytes())
	}
	body.u32(crc)
	if err := appendRecord(w.out, OpAttachment, body.Bytes()); err != nil {
		return err
	}
	w.attIndexes = append(w.attIndexes, &AttachmentIndex{
		Offset:     offset,
		Length:     uint64(w.out.offset) - offset,
		LogTime:    a.LogTime,
		CreateTime: a.CreateTime,
		DataSize:   uint64(len(a.Data)),
		Name:       a.Name,
		MediaType:  a.MediaType,
	})
	w.stats.AttachmentCount++
	return nil
}

// AddMetadata writes a metadata record outside any chunk.
func (w *Writer) AddMetadata(name string, metadata map[string]string) error {
	if w.finished {
		return WriterClosedError{}
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	offset := uint64(w.out.offset)
	var body recordBuffer
	body.str(name)
	body.strMap(metadata)
	if err := appendRecord(w.out, OpMetadata, body.Bytes()); err != nil {
		return err
	}
	w.metaIndexes = append(w.metaIndexes, &MetadataIndex{
		Offset: offset,
		Length: uint64(w.out.offset) - offset,
		Name:   name,
	})
	w.stats.MetadataCount++
	return nil
}

func (w *Writer) flushChunk() error {
	if w.chunk.buf.Len() == 0 {
		return nil
	}
	records := w.chunk.buf.Bytes()
	compressed, err := compressChunk(w.opts.Compression, records)
	if err != nil {
		return err
	}
	crc := uint32(0)
	if w.opts.IncludeCRC {
		crc = crc32.ChecksumIEEE(records)
	}

	chunkStart := uint64(w.out.offset)
	var body recordBuffer
	body.u64(w.chunk.start)
	body.u64(w.chunk.end)
	body.u64(uint64(len(records)))
	body.u32(crc)
	body.str(w.opts.Compression)
	body.u64(uint64(len(compressed)))
	body.Write(compressed)
	if err := appendRecord(w.out, OpChunk, body.Bytes()); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	chunkLen := uint64(w.out.offset) - chunkStart

	// Message index records follow the chunk, one per channel.
	indexStart := uint64(w.out.offset)
	indexOffsets := make(map[uint16]uint64, len(w.chunk.indexes))
	channelIDs := make([]int, 0, len(w.chunk.indexes))
	for id := range w.chunk.indexes {
		channelIDs = append(channelIDs, int(id))
	}
	sort.Ints(channelIDs)
	for _, id := range channelIDs {
		indexOffsets[uint16(id)] = uint64(w.out.offset)
		var mi recordBuffer
		mi.u16(uint16(id))
		var entries recordBuffer
		for _, e := range w.chunk.indexes[uint16(id)] {
			entries.u64(e.LogTime)
			entries.u64(e.Offset)
		}
		mi.u32(uint32(entries.Len()))
		mi.Write(entries.Bytes())
		if err := appendRecord(w.out, OpMessageIndex, mi.Bytes()); err != nil {
			return fmt.Errorf("write message index: %w", err)
		}
	}

	w.chunkIndexes = append(w.chunkIndexes, &ChunkIndex{
		MessageStartTime:    w.chunk.start,
		MessageEndTime:      w.chunk.end,
		ChunkStartOffset:    chunkStart,
		ChunkLength:         chunkLen,
		MessageIndexOffsets: indexOffsets,
		MessageIndexLength:  uint64(w.out.offset) - indexStart,
		Compression:         w.opts.Compression,
		CompressedSize:      uint64(len(compressed)),
		UncompressedSize:    uint64(len(records)),
	})
	w.stats.ChunkCount++
	w.chunk = newChunkBuilder()
	return nil
}

// Finish flushes pending chunks, writes the summary section and the footer,
// and closes the record stream. Calling it twice is a no-op.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	if err := w.flushChunk(); err != nil {
		return err
	}
	w.finished = true

	// Data section CRC covers everything before the DataEnd record.
	dataCRC := uint32(0)
	if w.opts.IncludeCRC {
		dataCRC = w.out.crc
	}
	var de recordBuffer
	de.u32(dataCRC)
	if err := appendRecord(w.out, OpDataEnd, de.Bytes()); err != nil {
		return err
	}

	w.out.resetCRC()
	summaryStart := uint64(w.out.offset)

	type group struct {
		op    OpCode
		start uint64
		end   uint64
	}
	var groups []group

	writeGroup := func(op OpCode, bodies [][]byte) error {
		if len(bodies) == 0 {
			return nil
		}
		g := group{op: op, start: uint64(w.out.offset)}
		for _, body := range bodies {
			if err := appendRecord(w.out, op, body); err != nil {
				return err
			}
		}
		g.end = uint64(w.out.offset)
		groups = append(groups, g)
		return nil
	}

	var schemaBodies, channelBodies, chunkIdxBodies, attIdxBodies, metaIdxBodies [][]byte
	for _, s := range w.schemas {
		schemaBodies = append(schemaBodies, schemaBody(s))
	}
	for _, c := range w.channels {
		channelBodies = append(channelBodies, channelBody(c))
	}
	for _, ci := range w.chunkIndexes {
		chunkIdxBodies = append(chunkIdxBodies, chunkIndexBody(ci))
	}
	for _, ai := range w.attIndexes {
		var b recordBuffer
		b.u64(ai.Offset)
		b.u64(ai.Length)
		b.u64(ai.LogTime)
		b.u64(ai.CreateTime)
		b.u64(ai.DataSize)
		b.str(ai.Name)
		b.str(ai.MediaType)
		attIdxBodies = append(attIdxBodies, b.Bytes())
	}
	for _, mi := range w.metaIndexes {
		var b recordBuffer
		b.u64(mi.Offset)
		b.u64(mi.Length)
		b.str(mi.Name)
		metaIdxBodies = append(metaIdxBodies, b.Bytes())
	}

	w.stats.SchemaCount = uint16(len(w.schemas))
	w.stats.ChannelCount = uint32(len(w.channels))
	var statsBody recordBuffer
	statsBody.u64(w.stats.MessageCount)
	statsBody.u16(w.stats.SchemaCount)
	statsBody.u32(w.stats.ChannelCount)
	statsBody.u32(w.stats.AttachmentCount)
	statsBody.u32(w.stats.MetadataCount)
	statsBody.u32(w.stats.ChunkCount)
	statsBody.u64(w.stats.MessageStartTime)
	statsBody.u64(w.stats.MessageEndTime)
	ids := make([]int, 0, len(w.stats.ChannelMessageCounts))
	for id := range w.stats.ChannelMessageCounts {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	var counts recordBuffer
	for _, id := range ids {
		counts.u16(uint16(id))
		counts.u64(w.stats.ChannelMessageCounts[uint16(id)])
	}
	statsBody.u32(uint32(counts.Len()))
	statsBody.Write(counts.Bytes())

	if err := writeGroup(OpSchema, schemaBodies); err != nil {
		return err
	}
	if err := writeGroup(OpChannel, channelBodies); err != nil {
		return err
	}
	if err := writeGroup(OpChunkIndex, chunkIdxBodies); err != nil {
		return err
	}
	if err := writeGroup(OpAttachmentIndex, attIdxBodies); err != nil {
		return err
	}
	if err := writeGroup(OpMetadataIndex, metaIdxBodies); err != nil {
		return err
	}
	if err := writeGroup(OpStatistics, [][]byte{statsBody.Bytes()}); err != nil {
		return err
	}

	summaryOffsetStart := uint64(w.out.offset)
	for _, g := range groups {
		var b recordBuffer
		b.u8(byte(g.op))
		b.u64(g.start)
		b.u64(g.end - g.start)
		if err := appendRecord(w.out, OpSummaryOffset, b.Bytes()); err != nil {
			return err
		}
	}
	if summaryStart == summaryOffsetStart && len(groups) == 0 {
		// Empty summary: the footer records zero offsets.
		summaryStart = 0
		summaryOffsetStart = 0
	}

	// The summary CRC covers the summary section plus the footer up to the
	// CRC field itself.
	var footerHead recordBuffer
	footerHead.u8(byte(OpFooter))
	footerHead.u64(20)
	footerHead.u64(summaryStart)
	footerHead.u64(summaryOffsetStart)
	if _, err := w.out.Write(footerHead.Bytes()); err != nil {
		return err
	}
	summaryCRC := uint32(0)
	if w.opts.IncludeCRC {
		summaryCRC = w.out.crc
	}
	var crcBuf recordBuffer
	crcBuf.u32(summaryCRC)
	if _, err := w.out.Write(crcBuf.Bytes()); err != nil {
		return err
	}

	if _, err := w.out.Write(Magic); err != nil {
		return err
	}
	return nil
}

func schemaBody(s *Schema) []byte {
	var b recordBuffer
	b.u16(s.ID)
	b.str(s.Name)
	b.str(s.Encoding)
	b.u32(uint32(len(s.Data)))
	b.Write(s.Data)
	return b.Bytes()
}

func channelBody(c *Channel) []byte {
	var b recordBuffer
	b.u16(c.ID)
	b.u16(c.SchemaID)
	b.str(c.Topic)
	b.str(c.MessageEncoding)
	b.strMap(c.Metadata)
	return b.Bytes()
}

func chunkIndexBody(ci *ChunkIndex) []byte {
	var b recordBuffer
	b.u64(ci.MessageStartTime)
	b.u64(ci.MessageEndTime)
	b.u64(ci.ChunkStartOffset)
	b.u64(ci.ChunkLength)
	ids := make([]int, 0, len(ci.MessageIndexOffsets))
	for id := range ci.MessageIndexOffsets {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	var offsets recordBuffer
	for _, id := range ids {
		offsets.u16(uint16(id))
		offsets.u64(ci.MessageIndexOffsets[uint16(id)])
	}
	b.u32(uint32(offsets.Len()))
	b.Write(offsets.Bytes())
	b.u64(ci.MessageIndexLength)
	b.str(ci.Compression)
	b.u64(ci.CompressedSize)
	b.u64(ci.UncompressedSize)
	return b.Bytes()
}
