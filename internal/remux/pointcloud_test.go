package remux

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bagtools/remux/internal/config"
)

const testPointStep = 12

// testCloud builds a decoded PointCloud2 with float32 x/y/z fields and the
// given points packed little-endian.
func testCloud(points ...[3]float64) map[string]any {
	data := make([]byte, 0, len(points)*testPointStep)
	for _, p := range points {
		for _, v := range p {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(float32(v)))
		}
	}
	field := func(name string, offset int) map[string]any {
		return map[string]any{
			"name":     name,
			"offset":   uint32(offset),
			"datatype": uint8(pointFieldFloat32),
			"count":    uint32(1),
		}
	}
	return map[string]any{
		"fields": []any{
			field("x", 0),
			field("y", 4),
			field("z", 8),
		},
		"data":         data,
		"point_step":   uint32(testPointStep),
		"row_step":     uint32(len(data)),
		"height":       uint32(1),
		"width":        uint32(len(points)),
		"is_bigendian": false,
	}
}

func cloudPoints(t *testing.T, value map[string]any) [][3]float64 {
	t.Helper()
	data, ok := value["data"].([]byte)
	require.True(t, ok)
	require.Zero(t, len(data)%testPointStep)

	points := make([][3]float64, 0, len(data)/testPointStep)
	for i := 0; i+testPointStep <= len(data); i += testPointStep {
		points = append(points, [3]float64{
			float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))),
			float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i+4:]))),
			float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i+8:]))),
		})
	}
	return points
}

func TestIsPointCloudSchema(t *testing.T) {
	assert.True(t, IsPointCloudSchema("sensor_msgs/msg/PointCloud2"))
	assert.True(t, IsPointCloudSchema("sensor_msgs/PointCloud2"))
	assert.False(t, IsPointCloudSchema("sensor_msgs/msg/LaserScan"))
}

func TestApplyPointCloud_RemoveZero(t *testing.T) {
	cloud := testCloud([3]float64{0, 0, 0}, [3]float64{1, 2, 3}, [3]float64{0, 0, 5})

	ApplyPointCloud(config.SettingPointCloud{RemoveZero: true}, cloud)

	points := cloudPoints(t, cloud)
	require.Len(t, points, 2)
	assert.Equal(t, [3]float64{1, 2, 3}, points[0])
	assert.Equal(t, [3]float64{0, 0, 5}, points[1])
	assert.Equal(t, uint32(1), cloud["height"])
	assert.Equal(t, uint32(2), cloud["width"])
	assert.Equal(t, uint32(2*testPointStep), cloud["row_step"])
}

func TestApplyPointCloud_EgoBounds(t *testing.T) {
	cfg := config.SettingPointCloud{
		EgoBounds: &config.SettingEgoBounds{
			X: config.AxisBound{Min: -2, Max: 2},
			Y: config.AxisBound{Min: -2, Max: 2},
			Z: config.AxisBound{Min: -1, Max: 1},
		},
	}
	cloud := testCloud(
		[3]float64{0.5, 0.5, 0},  // inside the ego box, removed
		[3]float64{5, 0, 0},      // outside on x, kept
		[3]float64{2, 0, 0},      // on the boundary, kept
		[3]float64{0, 0, 3},      // outside on z, kept
	)

	ApplyPointCloud(cfg, cloud)

	points := cloudPoints(t, cloud)
	require.Len(t, points, 3)
	assert.Equal(t, [3]float64{5, 0, 0}, points[0])
	assert.Equal(t, [3]float64{2, 0, 0}, points[1])
	assert.Equal(t, [3]float64{0, 0, 3}, points[2])
}

func TestApplyPointCloud_Rotation(t *testing.T) {
	cfg := config.SettingPointCloud{
		Rotation: config.SettingRotation{EulerDeg: &[3]float64{0, 0, 90}},
	}
	cloud := testCloud([3]float64{1, 0, 0})

	ApplyPointCloud(cfg, cloud)

	points := cloudPoints(t, cloud)
	require.Len(t, points, 1)
	assert.InDelta(t, 0, points[0][0], 1e-6)
	assert.InDelta(t, 1, points[0][1], 1e-6)
	assert.InDelta(t, 0, points[0][2], 1e-6)
}

func TestApplyPointCloud_FieldMapping(t *testing.T) {
	cfg := config.SettingPointCloud{
		FieldMapping: map[string]string{"intensity": "reflectivity"},
	}
	cloud := testCloud([3]float64{1, 2, 3})
	cloud["fields"] = append(asSlice(cloud["fields"]), map[string]any{
		"name":     "intensity",
		"offset":   uint32(8),
		"datatype": uint8(pointFieldFloat32),
		"count":    uint32(1),
	})
	before := append([]byte(nil), cloud["data"].([]byte)...)

	ApplyPointCloud(cfg, cloud)

	fields := asSlice(cloud["fields"])
	assert.Equal(t, "reflectivity", asMap(fields[3])["name"])
	// A pure rename leaves the packed buffer untouched.
	assert.Equal(t, before, cloud["data"])
	assert.Equal(t, uint32(1), cloud["width"])
}

func TestApplyPointCloud_LayoutOverflow(t *testing.T) {
	cloud := testCloud([3]float64{1, 2, 3})
	// Declare z past the end of the point record.
	asMap(asSlice(cloud["fields"])[2])["offset"] = uint32(testPointStep)
	before := append([]byte(nil), cloud["data"].([]byte)...)

	ok := ApplyPointCloud(config.SettingPointCloud{RemoveZero: true}, cloud)

	assert.False(t, ok)
	assert.Equal(t, before, cloud["data"])
	assert.Equal(t, uint32(1), cloud["width"])
}

func TestApplyPointCloud_NoEditsConfigured(t *testing.T) {
	cloud := testCloud([3]float64{1, 2, 3})
	before := append([]byte(nil), cloud["data"].([]byte)...)

	ApplyPointCloud(config.SettingPointCloud{}, cloud)

	assert.Equal(t, before, cloud["data"])
}
