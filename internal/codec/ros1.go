package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ros1Reader decodes the unaligned little-endian ROS1 serialization.
// Time and duration values are normalized to the {sec, nanosec} shape used
// by the rest of the pipeline so edits never see two timestamp layouts.
type ros1Reader struct {
	buf []byte
	pos int
}

func (r *ros1Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("payload truncated at byte %d", r.pos)
	}
	return nil
}

func (r *ros1Reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *ros1Reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *ros1Reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *ros1Reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *ros1Reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *ros1Reader) decodeValue(ft FieldType, def *Definition) (any, error) {
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

func (r *ros1Reader) decodeField(ft FieldType, def *Definition) (any, error) {
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
	if ft.Kind == KindUint8 {
		if err := r.need(count); err != nil {
			return nil, err
		}
		out := append([]byte(nil), r.buf[r.pos:r.pos+count]...)
		r.pos += count
		return out, nil
	}
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

func (r *ros1Reader) decodeSpec(spec *MessageSpec, def *Definition) (map[string]any, error) {
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

// DecodeROS1 decodes one ROS1 payload against a compiled definition.
func DecodeROS1(def *Definition, data []byte) (map[string]any, error) {
	r := &ros1Reader{buf: data}
	return r.decodeSpec(def.Root, def)
}
