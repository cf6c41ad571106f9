package remux

import (
	"github.com/bagtools/remux/internal/config"
)

// TFSchemaName is the schema carried by the transform topics.
const TFSchemaName = "tf2_msgs/msg/TFMessage"

// TFSchemaText is a self-contained definition of TFSchemaName, used when
// transforms are synthesized into files that never carried the schema.
const TFSchemaText = `
geometry_msgs/TransformStamped[] transforms

================================================================================
MSG: geometry_msgs/TransformStamped
# This expresses a transform from coordinate frame header.frame_id
# to the coordinate frame child_frame_id at the time of header.stamp
#
# This message is mostly used by the
# <a href="https://index.ros.org/p/tf2/">tf2</a> package.
# See its documentation for more information.
#
# The child_frame_id is necessary in addition to the frame_id
# in the Header to communicate the full reference for the transform
# in a self contained message.

# The frame id in the header is used as the reference frame of this transform.
std_msgs/Header header

# The frame id of the child frame to which this transform points.
string child_frame_id

# Translation and rotation in 3-dimensions of child_frame_id from header.frame_id.
Transform transform

================================================================================
MSG: geometry_msgs/Transform
# This represents the transform between two coordinate frames in free space.

Vector3 translation
Quaternion rotation

================================================================================
MSG: geometry_msgs/Quaternion
# This represents an orientation in free space in quaternion form.

float64 x 0
float64 y 0
float64 z 0
float64 w 1

================================================================================
MSG: geometry_msgs/Vector3
# This represents a vector in free space.

# This is semantically different than a point.
# A vector is always anchored at the origin.
# When a transform is applied to a vector, only the rotational component is applied.

float64 x
float64 y
float64 z

================================================================================
MSG: std_msgs/Header
# Standard metadata for higher-level stamped data types.
# This is generally used to communicate timestamped data
# in a particular coordinate frame.

# Two-integer timestamp that is expressed as seconds and nanoseconds.
builtin_interfaces/Time stamp

# Transform frame with which this data is associated.
string frame_id

================================================================================
MSG: builtin_interfaces/Time
# This message communicates ROS Time defined here:
# https://design.ros2.org/articles/clock_and_time.html

# The seconds component, valid over all int32 values.
int32 sec

# The nanoseconds component, valid in the range [0, 10e9).
uint32 nanosec
`

// StaticInsert builds one synthesized transform message from the insert
// settings, stamped at stampNS. Returns nil when nothing is configured.
func StaticInsert(cfg config.SettingTF, stampNS uint64) map[string]any {
	if len(cfg.Insert) == 0 {
		return nil
	}

	sec := int32(stampNS / 1_000_000_000)
	nanosec := uint32(stampNS % 1_000_000_000)

	transforms := make([]any, 0, len(cfg.Insert))
	for _, insert := range cfg.Insert {
		transform := map[string]any{}
		if t := insert.Translation; t != nil {
			transform["translation"] = map[string]any{
				"x": t.X,
				"y": t.Y,
				"z": t.Z,
			}
		}
		if q, ok := rotationQuaternion(insert.Rotation); ok {
			transform["rotation"] = map[string]any{
				"x": q[0],
				"y": q[1],
				"z": q[2],
				"w": q[3],
			}
		}
		transforms = append(transforms, map[string]any{
			"header": map[string]any{
				"frame_id": insert.FrameID,
				"stamp": map[string]any{
					"sec":     sec,
					"nanosec": nanosec,
				},
			},
			"child_frame_id": insert.ChildFrameID,
			"transform":      transform,
		})
	}

	return map[string]any{"transforms": transforms}
}

// RemoveTransforms filters the transforms of a decoded TFMessage by child
// frame id, in place. Returns false when the message ends up empty and
// should be dropped.
func RemoveTransforms(cfg config.SettingTF, value map[string]any) bool {
	if len(cfg.Remove) == 0 {
		return true
	}
	removed := make(map[string]bool, len(cfg.Remove))
	for _, frame := range cfg.Remove {
		removed[frame] = true
	}

	transforms := asSlice(value["transforms"])
	kept := transforms[:0]
	for _, t := range transforms {
		if removed[toString(asMap(t)["child_frame_id"])] {
			continue
		}
		kept = append(kept, t)
	}
	value["transforms"] = kept
	return len(kept) > 0
}

// RestampTransforms rewrites every transform stamp in a decoded TFMessage,
// spacing consecutive transforms one nanosecond apart so downstream
// consumers never see duplicate stamps. Returns the nanosecond timestamp
// after the last transform written.
func RestampTransforms(value map[string]any, startNS uint64) uint64 {
	for _, t := range asSlice(value["transforms"]) {
		startNS++
		header := asMap(asMap(t)["header"])
		if header == nil {
			continue
		}
		header["stamp"] = map[string]any{
			"sec":     int32(startNS / 1_000_000_000),
			"nanosec": uint32(startNS % 1_000_000_000),
		}
	}
	return startNS
}
