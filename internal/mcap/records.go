package mcap

// OpCode identifies the record kind of a container record.
type OpCode byte

const (
	OpHeader          OpCode = 0x01
	OpFooter          OpCode = 0x02
	OpSchema          OpCode = 0x03
	OpChannel         OpCode = 0x04
	OpMessage         OpCode = 0x05
	OpChunk           OpCode = 0x06
	OpMessageIndex    OpCode = 0x07
	OpChunkIndex      OpCode = 0x08
	OpAttachment      OpCode = 0x09
	OpAttachmentIndex OpCode = 0x0A
	OpStatistics      OpCode = 0x0B
	OpMetadata        OpCode = 0x0C
	OpMetadataIndex   OpCode = 0x0D
	OpSummaryOffset   OpCode = 0x0E
	OpDataEnd         OpCode = 0x0F
)

// Magic is the byte sequence that opens and closes a container file.
var Magic = []byte{0x89, 'M', 'C', 'A', 'P', '0', '\r', '\n'}

// Compression identifiers for chunk bodies.
const (
	CompressionNone = ""
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// Well-known profile and encoding identifiers.
const (
	ProfileROS1 = "ros1"
	ProfileROS2 = "ros2"

	SchemaEncodingROS1       = "ros1msg"
	SchemaEncodingROS2       = "ros2msg"
	SchemaEncodingJSONSchema = "jsonschema"
	SchemaEncodingProtobuf   = "protobuf"

	MessageEncodingCDR      = "cdr"
	MessageEncodingROS1     = "ros1"
	MessageEncodingJSON     = "json"
	MessageEncodingProtobuf = "protobuf"
)

// Record is any parsed container record.
type Record interface {
	Opcode() OpCode
}

// Header opens the data section of a file.
type Header struct {
	Profile string
	Library string
}

func (*Header) Opcode() OpCode { return OpHeader }

// Footer closes a file and locates the optional summary section.
// A SummaryStart of zero means the file carries no summary.
type Footer struct {
	SummaryStart       uint64
	SummaryOffsetStart uint64
	SummaryCRC         uint32
}

func (*Footer) Opcode() OpCode { return OpFooter }

// Schema is a named message-type definition in one of the supported
// encoding families. Immutable once registered.
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

func (*Schema) Opcode() OpCode { return OpSchema }

// Channel is a stream of messages of one schema, identified by topic.
type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}

func (*Channel) Opcode() OpCode { return OpChannel }

// Message is a single timestamped payload on a channel.
type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

func (*Message) Opcode() OpCode { return OpMessage }

// Chunk groups records for bulk I/O, optionally compressed.
// Records holds the still-compressed body.
type Chunk struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	UncompressedSize uint64
	UncompressedCRC  uint32
	Compression      string
	Records          []byte
}

func (*Chunk) Opcode() OpCode { return OpChunk }

// MessageIndexEntry locates one message inside an uncompressed chunk.
type MessageIndexEntry struct {
	LogTime uint64
	Offset  uint64
}

// MessageIndex maps a channel to message offsets within the preceding chunk.
type MessageIndex struct {
	ChannelID uint16
	Records   []MessageIndexEntry
}

func (*MessageIndex) Opcode() OpCode { return OpMessageIndex }

// ChunkIndex locates a chunk and summarizes its time range and channels.
type ChunkIndex struct {
	MessageStartTime    uint64
	MessageEndTime      uint64
	ChunkStartOffset    uint64
	ChunkLength         uint64
	MessageIndexOffsets map[uint16]uint64
	MessageIndexLength  uint64
	Compression         string
	CompressedSize      uint64
	UncompressedSize    uint64
}

func (*ChunkIndex) Opcode() OpCode { return OpChunkIndex }

// Attachment carries an arbitrary named blob alongside the message data.
type Attachment struct {
	LogTime    uint64
	CreateTime uint64
	Name       string
	MediaType  string
	Data       []byte
	CRC        uint32
}

func (*Attachment) Opcode() OpCode { return OpAttachment }

// AttachmentIndex locates an attachment record.
type AttachmentIndex struct {
	Offset     uint64
	Length     uint64
	LogTime    uint64
	CreateTime uint64
	DataSize   uint64
	Name       string
	MediaType  string
}

func (*AttachmentIndex) Opcode() OpCode { return OpAttachmentIndex }

// Statistics aggregates counts and the overall message time range.
type Statistics struct {
	MessageCount         uint64
	SchemaCount          uint16
	ChannelCount         uint32
	AttachmentCount      uint32
	MetadataCount        uint32
	ChunkCount           uint32
	MessageStartTime     uint64
	MessageEndTime       uint64
	ChannelMessageCounts map[uint16]uint64
}

func (*Statistics) Opcode() OpCode { return OpStatistics }

// Metadata carries a named string map.
type Metadata struct {
	Name     string
	Metadata map[string]string
}

func (*Metadata) Opcode() OpCode { return OpMetadata }

// MetadataIndex locates a metadata record.
type MetadataIndex struct {
	Offset uint64
	Length uint64
	Name   string
}

func (*MetadataIndex) Opcode() OpCode { return OpMetadataIndex }

// SummaryOffset locates one group of records within the summary section.
type SummaryOffset struct {
	GroupOpcode OpCode
	GroupStart  uint64
	GroupLength uint64
}

func (*SummaryOffset) Opcode() OpCode { return OpSummaryOffset }

// DataEnd closes the data section.
type DataEnd struct {
	DataSectionCRC uint32
}

func (*DataEnd) Opcode() OpCode { return OpDataEnd }
