package remux

import (
	"encoding/binary"
	"math"

	"github.com/bagtools/remux/internal/config"
)

// PointCloudSchemaName matches both the ROS1 and ROS2 spelling of the
// point cloud schema.
var pointCloudSchemaNames = map[string]bool{
	"sensor_msgs/msg/PointCloud2": true,
	"sensor_msgs/PointCloud2":     true,
}

// IsPointCloudSchema reports whether edits from the point_cloud settings
// apply to the schema.
func IsPointCloudSchema(name string) bool {
	return pointCloudSchemaNames[name]
}

// PointField datatypes, from sensor_msgs/msg/PointField.
const (
	pointFieldInt8    = 1
	pointFieldUint8   = 2
	pointFieldInt16   = 3
	pointFieldUint16  = 4
	pointFieldInt32   = 5
	pointFieldUint32  = 6
	pointFieldFloat32 = 7
	pointFieldFloat64 = 8
)

type pointComponent struct {
	offset   int
	datatype int
}

// ApplyPointCloud edits a decoded PointCloud2 message in place: renames
// fields, removes points and rotates coordinates per the settings. Points
// are fixed-stride records inside the packed data buffer, so the edits
// operate on the buffer directly instead of materializing per-point maps.
// Returns false when the declared field layout does not fit point_step;
// the message is left untouched in that case.
func ApplyPointCloud(cfg config.SettingPointCloud, value map[string]any) bool {
	fields := asSlice(value["fields"])

	if cfg.FieldMapping != nil {
		for _, f := range fields {
			field := asMap(f)
			if mapped, ok := cfg.FieldMapping[toString(field["name"])]; ok {
				field["name"] = mapped
			}
		}
	}

	components := map[string]pointComponent{}
	for _, f := range fields {
		field := asMap(f)
		components[toString(field["name"])] = pointComponent{
			offset:   int(toInt64(field["offset"])),
			datatype: int(toInt64(field["datatype"])),
		}
	}
	x, okX := components["x"]
	y, okY := components["y"]
	z, okZ := components["z"]
	if !okX || !okY || !okZ {
		return true
	}

	quat, rotate := rotationQuaternion(cfg.Rotation)
	filter := cfg.RemoveZero || cfg.EgoBounds != nil
	if !rotate && !filter {
		return true
	}

	data, _ := value["data"].([]byte)
	pointStep := int(toInt64(value["point_step"]))
	bigendian, _ := value["is_bigendian"].(bool)
	if pointStep <= 0 {
		return false
	}
	// Field offsets come from message data, so the layout has to be
	// checked against point_step before indexing into the buffer.
	for _, comp := range []pointComponent{x, y, z} {
		width := componentWidth(comp.datatype)
		if width == 0 || comp.offset < 0 || comp.offset+width > pointStep {
			return false
		}
	}
	if len(data) < pointStep {
		return true
	}

	byteOrder := binary.ByteOrder(binary.LittleEndian)
	if bigendian {
		byteOrder = binary.BigEndian
	}

	count := len(data) / pointStep
	out := data[:0]
	kept := 0
	for i := 0; i < count; i++ {
		point := data[i*pointStep : (i+1)*pointStep]
		px := readComponent(point[x.offset:], x.datatype, byteOrder)
		py := readComponent(point[y.offset:], y.datatype, byteOrder)
		pz := readComponent(point[z.offset:], z.datatype, byteOrder)

		if cfg.RemoveZero && px == 0 && py == 0 && pz == 0 {
			continue
		}
		if b := cfg.EgoBounds; b != nil &&
			px > b.X.Min && px < b.X.Max &&
			py > b.Y.Min && py < b.Y.Max &&
			pz > b.Z.Min && pz < b.Z.Max {
			continue
		}

		out = append(out, point...)
		if rotate {
			rotated := out[kept*pointStep : (kept+1)*pointStep]
			rx, ry, rz := rotateVector(quat, px, py, pz)
			writeComponent(rotated[x.offset:], x.datatype, byteOrder, rx)
			writeComponent(rotated[y.offset:], y.datatype, byteOrder, ry)
			writeComponent(rotated[z.offset:], z.datatype, byteOrder, rz)
		}
		kept++
	}

	if !rotate && kept == count {
		return true
	}

	value["data"] = out
	value["height"] = uint32(1)
	value["width"] = uint32(kept)
	value["row_step"] = uint32(kept * pointStep)
	return true
}

func componentWidth(datatype int) int {
	switch datatype {
	case pointFieldInt8, pointFieldUint8:
		return 1
	case pointFieldInt16, pointFieldUint16:
		return 2
	case pointFieldInt32, pointFieldUint32, pointFieldFloat32:
		return 4
	case pointFieldFloat64:
		return 8
	default:
		return 0
	}
}

func readComponent(b []byte, datatype int, order binary.ByteOrder) float64 {
	switch datatype {
	case pointFieldInt8:
		return float64(int8(b[0]))
	case pointFieldUint8:
		return float64(b[0])
	case pointFieldInt16:
		return float64(int16(order.Uint16(b)))
	case pointFieldUint16:
		return float64(order.Uint16(b))
	case pointFieldInt32:
		return float64(int32(order.Uint32(b)))
	case pointFieldUint32:
		return float64(order.Uint32(b))
	case pointFieldFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case pointFieldFloat64:
		return math.Float64frombits(order.Uint64(b))
	default:
		return 0
	}
}

func writeComponent(b []byte, datatype int, order binary.ByteOrder, v float64) {
	switch datatype {
	case pointFieldInt8:
		b[0] = byte(int8(v))
	case pointFieldUint8:
		b[0] = byte(v)
	case pointFieldInt16:
		order.PutUint16(b, uint16(int16(v)))
	case pointFieldUint16:
		order.PutUint16(b, uint16(v))
	case pointFieldInt32:
		order.PutUint32(b, uint32(int32(v)))
	case pointFieldUint32:
		order.PutUint32(b, uint32(v))
	case pointFieldFloat32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case pointFieldFloat64:
		order.PutUint64(b, math.Float64bits(v))
	}
}
