package mcap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// MaxRecordSize bounds a single record body (1 GiB). Anything larger is
// treated as framing corruption rather than attempted as one allocation.
const MaxRecordSize = 1 << 30

// LexerOptions control how a record stream is decoded.
type LexerOptions struct {
	// SkipMagic disables the leading magic check. Used for the nested
	// record streams inside decompressed chunks.
	SkipMagic bool
	// EmitChunks yields Chunk records as-is instead of descending into
	// their decompressed contents.
	EmitChunks bool
	// ValidateChunkCRC verifies the uncompressed CRC of each chunk body.
	ValidateChunkCRC bool
}

// Lexer produces a lazy, finite, non-restartable sequence of typed records
// from a byte stream. Chunk records are decompressed and parsed recursively
// unless EmitChunks is set.
type Lexer struct {
	r       io.Reader
	opts    LexerOptions
	offset  int64
	started bool
	inner   *Lexer
}

// NewLexer wraps a byte stream in a record decoder.
func NewLexer(r io.Reader, opts LexerOptions) *Lexer {
	return &Lexer{r: r, opts: opts}
}

// Offset reports the number of bytes consumed from the outer stream.
func (l *Lexer) Offset() int64 { return l.offset }

func (l *Lexer) readMagic() error {
	buf := make([]byte, len(Magic))
	n, err := io.ReadFull(l.r, buf)
	l.offset += int64(n)
	if err != nil {
		return FramingError{Offset: 0, Reason: "missing magic"}
	}
	if !bytes.Equal(buf, Magic) {
		return FramingError{Offset: 0, Reason: "invalid magic"}
	}
	return nil
}

// Next returns the next typed record, or io.EOF at a clean end of stream.
// A stream ending mid-record yields a PartialRecordError. Records with
// unknown opcodes are skipped.
func (l *Lexer) Next() (Record, error) {
	if !l.started {
		l.started = true
		if !l.opts.SkipMagic {
			if err := l.readMagic(); err != nil {
				return nil, err
			}
		}
	}
	for {
		if l.inner != nil {
			rec, err := l.inner.Next()
			if err == nil {
				return rec, nil
			}
			l.inner = nil
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			continue
		}

		rec, err := l.readRecord()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue // unknown opcode
		}
		if chunk, ok := rec.(*Chunk); ok && !l.opts.EmitChunks {
			inner, err := l.descend(chunk)
			if err != nil {
				return nil, err
			}
			l.inner = inner
			continue
		}
		return rec, nil
	}
}

func (l *Lexer) descend(chunk *Chunk) (*Lexer, error) {
	body, err := decompressChunk(chunk.Compression, chunk.Records)
	if err != nil {
		return nil, fmt.Errorf("chunk at offset %d: %w", l.offset, err)
	}
	if l.opts.ValidateChunkCRC && chunk.UncompressedCRC != 0 {
		if crc := crc32.ChecksumIEEE(body); crc != chunk.UncompressedCRC {
			return nil, FramingError{
				Offset: l.offset,
				Reason: fmt.Sprintf("chunk crc mismatch: expected %08x, got %08x", chunk.UncompressedCRC, crc),
			}
		}
	}
	return NewLexer(bytes.NewReader(body), LexerOptions{SkipMagic: true}), nil
}

// readRecord reads one opcode+length+body frame. Returns (nil, nil) for
// unknown opcodes.
func (l *Lexer) readRecord() (Record, error) {
	start := l.offset
	var opBuf [1]byte
	n, err := io.ReadFull(l.r, opBuf[:])
	l.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, PartialRecordError{Offset: start}
	}
	op := OpCode(opBuf[0])

	// The trailing magic begins with a byte that is never a valid opcode.
	// Seeing it means the file ended cleanly.
	if opBuf[0] == Magic[0] {
		rest := make([]byte, len(Magic)-1)
		n, err := io.ReadFull(l.r, rest)
		l.offset += int64(n)
		if err == nil && bytes.Equal(rest, Magic[1:]) {
			return nil, io.EOF
		}
		return nil, FramingError{Offset: start, Reason: fmt.Sprintf("invalid opcode 0x%02X", opBuf[0])}
	}

	var lenBuf [8]byte
	n, err = io.ReadFull(l.r, lenBuf[:])
	l.offset += int64(n)
	if err != nil {
		return nil, PartialRecordError{Offset: start, Opcode: op}
	}
	recLen := binary.LittleEndian.Uint64(lenBuf[:])
	if recLen > MaxRecordSize {
		return nil, FramingError{Offset: start, Reason: fmt.Sprintf("record length %d exceeds maximum", recLen)}
	}

	body := make([]byte, recLen)
	n, err = io.ReadFull(l.r, body)
	l.offset += int64(n)
	if err != nil {
		return nil, PartialRecordError{Offset: start, Opcode: op}
	}

	rec, err := ParseRecord(op, body)
	if err != nil {
		return nil, FramingError{Offset: start, Reason: err.Error()}
	}
	return rec, nil
}
