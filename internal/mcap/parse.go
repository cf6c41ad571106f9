package mcap

import (
	"encoding/binary"
	"fmt"
)

// decoder is a bounds-checked cursor over one record body.
type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("short record body reading %s at byte %d", what, d.pos)
	}
}

func (d *decoder) u8(what string) uint8 {
	if d.err != nil || d.remaining() < 1 {
		d.fail(what)
		return 0
	}
	v := d.buf[d.pos]
	d.pos++
	return v
}

func (d *decoder) u16(what string) uint16 {
	if d.err != nil || d.remaining() < 2 {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v
}

func (d *decoder) u32(what string) uint32 {
	if d.err != nil || d.remaining() < 4 {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v
}

func (d *decoder) u64(what string) uint64 {
	if d.err != nil || d.remaining() < 8 {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v
}

func (d *decoder) bytes(n int, what string) []byte {
	if d.err != nil || n < 0 || d.remaining() < n {
		d.fail(what)
		return nil
	}
	v := d.buf[d.pos : d.pos+n]
	d.pos += n
	return v
}

func (d *decoder) str(what string) string {
	n := d.u32(what)
	return string(d.bytes(int(n), what))
}

// prefixedBytes reads a u32 length-prefixed byte slice.
func (d *decoder) prefixedBytes(what string) []byte {
	n := d.u32(what)
	return d.bytes(int(n), what)
}

// rest returns all unread bytes of the body.
func (d *decoder) rest() []byte {
	v := d.buf[d.pos:]
	d.pos = len(d.buf)
	return v
}

func (d *decoder) strMap(what string) map[string]string {
	n := int(d.u32(what))
	m := make(map[string]string)
	end := d.pos + n
	for d.err == nil && d.pos < end {
		k := d.str(what)
		v := d.str(what)
		m[k] = v
	}
	return m
}

// ParseRecord parses one record body into its typed form. Unknown opcodes
// are returned as nil with no error so callers can skip them, as required
// for forward compatibility.
func ParseRecord(op OpCode, body []byte) (Record, error) {
	d := &decoder{buf: body}
	var rec Record
	switch op {
	case OpHeader:
		rec = &Header{Profile: d.str("profile"), Library: d.str("library")}
	case OpFooter:
		rec = &Footer{
			SummaryStart:       d.u64("summary_start"),
			SummaryOffsetStart: d.u64("summary_offset_start"),
			SummaryCRC:         d.u32("summary_crc"),
		}
	case OpSchema:
		s := &Schema{ID: d.u16("id"), Name: d.str("name"), Encoding: d.str("encoding")}
		s.Data = append([]byte(nil), d.prefixedBytes("data")...)
		rec = s
	case OpChannel:
		rec = &Channel{
			ID:              d.u16("id"),
			SchemaID:        d.u16("schema_id"),
			Topic:           d.str("topic"),
			MessageEncoding: d.str("message_encoding"),
			Metadata:        d.strMap("metadata"),
		}
	case OpMessage:
		m := &Message{
			ChannelID:   d.u16("channel_id"),
			Sequence:    d.u32("sequence"),
			LogTime:     d.u64("log_time"),
			PublishTime: d.u64("publish_time"),
		}
		m.Data = append([]byte(nil), d.rest()...)
		rec = m
	case OpChunk:
		c := &Chunk{
			MessageStartTime: d.u64("message_start_time"),
			MessageEndTime:   d.u64("message_end_time"),
			UncompressedSize: d.u64("uncompressed_size"),
			UncompressedCRC:  d.u32("uncompressed_crc"),
			Compression:      d.str("compression"),
		}
		n := d.u64("records_size")
		c.Records = append([]byte(nil), d.bytes(int(n), "records")...)
		rec = c
	case OpMessageIndex:
		mi := &MessageIndex{ChannelID: d.u16("channel_id")}
		n := int(d.u32("records"))
		end := d.pos + n
		for d.err == nil && d.pos < end {
			mi.Records = append(mi.Records, MessageIndexEntry{
				LogTime: d.u64("log_time"),
				Offset:  d.u64("offset"),
			})
		}
		rec = mi
	case OpChunkIndex:
		ci := &ChunkIndex{
			MessageStartTime: d.u64("message_start_time"),
			MessageEndTime:   d.u64("message_end_time"),
			ChunkStartOffset: d.u64("chunk_start_offset"),
			ChunkLength:      d.u64("chunk_length"),
		}
		n := int(d.u32("message_index_offsets"))
		ci.MessageIndexOffsets = make(map[uint16]uint64)
		end := d.pos + n
		for d.err == nil && d.pos < end {
			ch := d.u16("channel_id")
			ci.MessageIndexOffsets[ch] = d.u64("offset")
		}
		ci.MessageIndexLength = d.u64("message_index_length")
		ci.Compression = d.str("compression")
		ci.CompressedSize = d.u64("compressed_size")
		ci.UncompressedSize = d.u64("uncompressed_size")
		rec = ci
	case OpAttachment:
		a := &Attachment{
			LogTime:    d.u64("log_time"),
			CreateTime: d.u64("create_time"),
			Name:       d.str("name"),
			MediaType:  d.str("media_type"),
		}
		n := d.u64("data_size")
		a.Data = append([]byte(nil), d.bytes(int(n), "data")...)
		a.CRC = d.u32("crc")
		rec = a
	case OpAttachmentIndex:
		rec = &AttachmentIndex{
			Offset:     d.u64("offset"),
			Length:     d.u64("length"),
			LogTime:    d.u64("log_time"),
			CreateTime: d.u64("create_time"),
			DataSize:   d.u64("data_size"),
			Name:       d.str("name"),
			MediaType:  d.str("media_type"),
		}
	case OpStatistics:
		s := &Statistics{
			MessageCount:     d.u64("message_count"),
			SchemaCount:      d.u16("schema_count"),
			ChannelCount:     d.u32("channel_count"),
			AttachmentCount:  d.u32("attachment_count"),
			MetadataCount:    d.u32("metadata_count"),
			ChunkCount:       d.u32("chunk_count"),
			MessageStartTime: d.u64("message_start_time"),
			MessageEndTime:   d.u64("message_end_time"),
		}
		n := int(d.u32("channel_message_counts"))
		s.ChannelMessageCounts = make(map[uint16]uint64)
		end := d.pos + n
		for d.err == nil && d.pos < end {
			ch := d.u16("channel_id")
			s.ChannelMessageCounts[ch] = d.u64("count")
		}
		rec = s
	case OpMetadata:
		rec = &Metadata{Name: d.str("name"), Metadata: d.strMap("metadata")}
	case OpMetadataIndex:
		rec = &MetadataIndex{
			Offset: d.u64("offset"),
			Length: d.u64("length"),
			Name:   d.str("name"),
		}
	case OpSummaryOffset:
		rec = &SummaryOffset{
			GroupOpcode: OpCode(d.u8("group_opcode")),
			GroupStart:  d.u64("group_start"),
			GroupLength: d.u64("group_length"),
		}
	case OpDataEnd:
		rec = &DataEnd{DataSectionCRC: d.u32("data_section_crc")}
	default:
		return nil, nil
	}
	if d.err != nil {
		return nil, d.err
	}
	return rec, nil
}
