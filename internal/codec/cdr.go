package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// cdrHeaderSize is the XCDR1 encapsulation header preceding every payload.
const cdrHeaderSize = 4

// cdrReader decodes little-endian XCDR1. Alignment is relative to the
// first byte after the encapsulation header.
type cdrReader struct {
	buf []byte
	pos int
}

func newCDRReader(data []byte) (*cdrReader, error) {
	if len(data) < cdrHeaderSize {
		return nil, fmt.Errorf("payload shorter than encapsulation header")
	}
	// Representation identifier: byte 1 bit 0 set means little-endian.
	if data[1]&0x01 != 0x01 {
		return nil, fmt.Errorf("big-endian payloads are not supported")
	}
	return &cdrReader{buf: data, pos: cdrHeaderSize}, nil
}

func (r *cdrReader) align(n int) {
	rel := r.pos - cdrHeaderSize
	if pad := (n - rel%n) % n; pad > 0 {
		r.pos += pad
	}
}

func (r *cdrReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("payload truncated at byte %d", r.pos)
	}
	return nil
}

func (r *cdrReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *cdrReader) u16() (uint16, error) {
	r.align(2)
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *cdrReader) u32() (uint32, error) {
	r.align(4)
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *cdrReader) u64() (uint64, error) {
	r.align(8)
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *cdrReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	// Length includes the NUL terminator.
	s := string(r.buf[r.pos : r.pos+int(n)-1])
	r.pos += int(n)
	return s, nil
}

// decodeValue reads one non-array value of the given type.
func (r *cdrReader) decodeValue(ft FieldType, def *Definition) (any, error) {
	switch ft.Kind {
	case KindBool:
		v, err := r.u8()
		return v != 0, err
	case KindInt8:
		v, err := r.u8()
		return int8(v), err
	case KindUint8:
		v, err := r.u8()
		return v, err
	case KindInt16:
		v, err := r.u16()
		return int16(v), err
	case KindUint16:
		v, err := r.u16()
		return v, err
	case KindInt32:
		v, err := r.u32()
		return int32(v), err
	case KindUint32:
		v, err := r.u32()
		return v, err
	case KindInt64:
		v, err := r.u64()
		return int64(v), err
	case KindUint64:
		v, err := r.u64()
		return v, err
	case KindFloat32:
		v, err := r.u32()
		return math.Float32frombits(v), err
	case KindFloat64:
		v, err := r.u64()
		return math.Float64frombits(v), err
	case KindString:
		return r.str()
	case KindTime, KindDuration:
		sec, err := r.u32()
		if err != nil {
			return nil, err
		}
		nsec, err := r.u32()
		if err != nil {
			return nil, err
		}
		return map[string]any{"sec": int32(sec), "nanosec": nsec}, nil
	case KindComplex:
		spec := def.Specs[ft.TypeName]
		if spec == nil {
			return nil, fmt.Errorf("undefined type %s", ft.TypeName)
		}
		return r.decodeSpec(spec, def)
	default:
		return nil, fmt.Errorf("unhandled kind %d", ft.Kind)
	}
}

func (r *cdrReader) decodeField(ft FieldType, def *Definition) (any, error) {
	if !ft.IsArray {
		return r.decodeValue(ft, def)
	}
	count := ft.ArraySize
	if count == 0 {
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		count = int(n)
	}
	// Byte arrays stay raw: they dominate payload volume (images, point
	// clouds) and edits operate on the packed buffer directly.
	if ft.Kind == KindUint8 {
		if err := r.need(count); err != nil {
			return nil, err
		}
		out := append([]byte(nil), r.buf[r.pos:r.pos+count]...)
		r.pos += count
		return out, nil
	}
	// Every element consumes at least one byte, so the remaining buffer
	// bounds the capacity hint. The count itself is untrusted input.
	out := make([]any, 0, min(count, len(r.buf)-r.pos))
	for i := 0; i < count; i++ {
		v, err := r.decodeValue(ft, def)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *cdrReader) decodeSpec(spec *MessageSpec, def *Definition) (map[string]any, error) {
	out := make(map[string]any, len(spec.Fields))
	for _, f := range spec.Fields {
		v, err := r.decodeField(f.Type, def)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", spec.Name, f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

// DecodeCDR decodes one CDR payload against a compiled definition.
func DecodeCDR(def *Definition, data []byte) (map[string]any, error) {
	r, err := newCDRReader(data)
	if err != nil {
		return nil, err
	}
	return r.decodeSpec(def.Root, def)
}

// cdrWriter encodes little-endian XCDR1.
type cdrWriter struct {
	buf []byte
}

func newCDRWriter() *cdrWriter {
	return &cdrWriter{buf: []byte{0x00, 0x01, 0x00, 0x00}}
}

func (w *cdrWriter) align(n int) {
	rel := len(w.buf) - cdrHeaderSize
	for pad := (n - rel%n) % n; pad > 0; pad-- {
		w.buf = append(w.buf, 0)
	}
}

func (w *cdrWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *cdrWriter) u16(v uint16) { w.align(2); w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *cdrWriter) u32(v uint32) { w.align(4); w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *cdrWriter) u64(v uint64) { w.align(8); w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *cdrWriter) str(s string) {
	w.u32(uint32(len(s) + 1))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *cdrWriter) encodeValue(ft FieldType, def *Definition, v any) error {
	switch ft.Kind {
	case KindBool:
		b, err := asBool(v)
		if err != nil {
			return err
		}
		if b {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case KindInt8, KindUint8:
		n, err := asUint64(v)
		if err != nil {
			return err
		}
		w.u8(uint8(n))
	case KindInt16, KindUint16:
		n, err := asUint64(v)
		if err != nil {
			return err
		}
		w.u16(uint16(n))
	case KindInt32, KindUint32:
		n, err := asUint64(v)
		if err != nil {
			return err
		}
		w.u32(uint32(n))
	case KindInt64, KindUint64:
		n, err := asUint64(v)
		if err != nil {
			return err
		}
		w.u64(n)
	case KindFloat32:
		f, err := asFloat64(v)
		if err != nil {
			return err
		}
		w.u32(math.Float32bits(float32(f)))
	case KindFloat64:
		f, err := asFloat64(v)
		if err != nil {
			return err
		}
		w.u64(math.Float64bits(f))
	case KindString:
		s, err := asString(v)
		if err != nil {
			return err
		}
		w.str(s)
	case KindTime, KindDuration:
		stamp, _ := v.(map[string]any)
		sec, err := asUint64(stamp["sec"])
		if err != nil {
			sec = 0
		}
		nsec, err := asUint64(stamp["nanosec"])
		if err != nil {
			nsec = 0
		}
		w.u32(uint32(sec))
		w.u32(uint32(nsec))
	case KindComplex:
		spec := def.Specs[ft.TypeName]
		if spec == nil {
			return fmt.Errorf("undefined type %s", ft.TypeName)
		}
		m, _ := v.(map[string]any)
		return w.encodeSpec(spec, def, m)
	default:
		return fmt.Errorf("unhandled kind %d", ft.Kind)
	}
	return nil
}

func (w *cdrWriter) encodeField(ft FieldType, def *Definition, v any) error {
	if !ft.IsArray {
		return w.encodeValue(ft, def, v)
	}
	if ft.Kind == KindUint8 {
		data, ok := v.([]byte)
		if !ok && v != nil {
			return fmt.Errorf("expected []byte, got %T", v)
		}
		if ft.ArraySize > 0 {
			if len(data) != ft.ArraySize {
				return fmt.Errorf("fixed array needs %d bytes, got %d", ft.ArraySize, len(data))
			}
		} else {
			w.u32(uint32(len(data)))
		}
		w.buf = append(w.buf, data...)
		return nil
	}
	items, ok := v.([]any)
	if !ok && v != nil {
		return fmt.Errorf("expected []any, got %T", v)
	}
	if ft.ArraySize > 0 {
		if len(items) != ft.ArraySize {
			return fmt.Errorf("fixed array needs %d elements, got %d", ft.ArraySize, len(items))
		}
	} else {
		w.u32(uint32(len(items)))
	}
	for i, item := range items {
		if err := w.encodeValue(ft, def, item); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func (w *cdrWriter) encodeSpec(spec *MessageSpec, def *Definition, m map[string]any) error {
	for _, f := range spec.Fields {
		// Absent fields encode as zero values, which lets synthesized
		// messages omit defaulted sub-structures.
		if err := w.encodeField(f.Type, def, m[f.Name]); err != nil {
			return fmt.Errorf("field %s.%s: %w", spec.Name, f.Name, err)
		}
	}
	return nil
}

// EncodeCDR encodes a decoded value against a compiled definition.
func EncodeCDR(def *Definition, m map[string]any) ([]byte, error) {
	w := newCDRWriter()
	if err := w.encodeSpec(def.Root, def, m); err != nil {
		return nil, err
	}
	return w.buf, nil
}
