package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// validDistros are the distributions interface archives exist for.
var validDistros = map[string]bool{
	"humble":  true,
	"iron":    true,
	"jazzy":   true,
	"kilted":  true,
	"rolling": true,
}

// Settings describes one transcoding run.
//
// Topic names in mappings, point_cloud and time_offset always refer to the
// original (input) topic names.
type Settings struct {
	Topic     SettingTopic  `yaml:"topic"`
	TF        SettingTF     `yaml:"tf"`
	TFStatic  SettingTF     `yaml:"tf_static"`
	MsgSchema SettingSchema `yaml:"msg_schema"`

	PointCloud map[string]SettingPointCloud `yaml:"point_cloud"`
	TimeOffset map[string]SettingTimeOffset `yaml:"time_offset"`
	Plugins    []SettingPlugin              `yaml:"plugins"`

	// Start and end of the output window in seconds. An end below
	// 100_000_000 is interpreted as a duration from the start.
	TimeStart *float64 `yaml:"time_start"`
	TimeEnd   *float64 `yaml:"time_end"`

	// Re-stamp and replay every static transform at the window start.
	KeepAllStaticTF bool `yaml:"keep_all_static_tf"`

	// Directory tree of local .msg definitions, searched before the
	// downloaded interface archives.
	MsgFolder string `yaml:"msg_folder"`

	// Save the effective settings as an attachment in the output file.
	SaveMetadata bool `yaml:"save_metadata"`

	// Per-topic frame_id overrides applied to header.frame_id.
	FrameIDMapping map[string]string `yaml:"frame_id_mapping"`

	ROSDistro string `yaml:"ros_distro"`
}

// SettingTopic controls per-topic renaming, removal and decimation.
type SettingTopic struct {
	// Mapping renames topics, keyed by original name.
	Mapping map[string]string `yaml:"mapping"`

	// Remove lists topics to drop entirely.
	Remove []string `yaml:"remove"`

	// Drop keeps only messages whose per-topic counter is not a multiple
	// of the given factor.
	Drop map[string]int `yaml:"drop"`
}

// SettingSchema overrides schema names and definitions.
type SettingSchema struct {
	// Definition maps schema names to replacement definition text.
	Definition map[string]string `yaml:"definition"`

	// Mapping renames schemas, keyed by original name.
	Mapping map[string]string `yaml:"mapping"`
}

// SettingTF controls transform filtering and insertion.
type SettingTF struct {
	// Remove lists child frame ids whose transforms are dropped.
	Remove []string `yaml:"remove"`

	// Insert lists transforms published once at the start of the output.
	// Only honored for the static transform topic.
	Insert []SettingTFInsert `yaml:"insert"`
}

// SettingTFInsert describes one synthesized transform.
type SettingTFInsert struct {
	FrameID      string              `yaml:"frame_id"`
	ChildFrameID string              `yaml:"child_frame_id"`
	Translation  *SettingTranslation `yaml:"translation"`
	Rotation     SettingRotation     `yaml:"rotation"`
}

// SettingTranslation is a translation in meters.
type SettingTranslation struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// SettingRotation is a rotation given either as a quaternion (x, y, z, w)
// or as euler angles in degrees (roll, pitch, yaw). The quaternion wins
// when both are set.
type SettingRotation struct {
	Quaternion *[4]float64 `yaml:"quaternion"`
	EulerDeg   *[3]float64 `yaml:"euler_deg"`
}

// AxisBound is a half-open interval on one axis.
type AxisBound struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// SettingEgoBounds is the axis-aligned box around the recording platform.
// Points inside the box are removed.
type SettingEgoBounds struct {
	X AxisBound `yaml:"x"`
	Y AxisBound `yaml:"y"`
	Z AxisBound `yaml:"z"`
}

// SettingPointCloud controls per-topic point cloud editing.
type SettingPointCloud struct {
	// RemoveZero drops points with all-zero coordinates.
	RemoveZero bool `yaml:"remove_zero"`

	// EgoBounds removes points inside the given box.
	EgoBounds *SettingEgoBounds `yaml:"ego_bounds"`

	// Rotation applied to every point.
	Rotation SettingRotation `yaml:"rotation"`

	// FieldMapping renames point fields, keyed by original name.
	FieldMapping map[string]string `yaml:"field_mapping"`
}

// SettingTimeOffset shifts header timestamps on one topic.
type SettingTimeOffset struct {
	Sec     int64 `yaml:"sec"`
	Nanosec int64 `yaml:"nanosec"`

	// PubTime bases the new stamp on the publish time instead of the
	// embedded stamp; the offset is still added.
	PubTime bool `yaml:"pub_time"`

	UpdateLogTime     bool `yaml:"update_log_time"`
	UpdatePublishTime bool `yaml:"update_publish_time"`
}

// SettingPlugin binds a registered plugin to an input and output topic.
type SettingPlugin struct {
	Name        string         `yaml:"name"`
	InputTopic  string         `yaml:"input_topic"`
	OutputTopic string         `yaml:"output_topic"`
	Settings    map[string]any `yaml:"settings"`
}

// DefaultSettings returns the settings an empty file resolves to.
func DefaultSettings() *Settings {
	return &Settings{
		MsgFolder:    "./msgs",
		SaveMetadata: true,
		ROSDistro:    "humble",
	}
}

// LoadSettings reads and validates a settings file. An empty path yields
// the defaults.
func LoadSettings(path string) (*Settings, []byte, error) {
	settings := DefaultSettings()
	if path == "" {
		if err := settings.Validate(); err != nil {
			return nil, nil, err
		}
		return settings, nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(raw, settings); err != nil {
		return nil, nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, raw, nil
}

// Validate validates the settings
func (s *Settings) Validate() error {
	if len(s.TF.Insert) > 0 {
		return fmt.Errorf("tf.insert is not supported, use tf_static.insert")
	}

	for topic, factor := range s.Topic.Drop {
		if factor <= 0 {
			return fmt.Errorf("topic.drop[%s]: factor must be positive, got %d", topic, factor)
		}
	}

	if s.TimeStart != nil && *s.TimeStart < 0 {
		return fmt.Errorf("time_start must not be negative")
	}
	if s.TimeEnd != nil && *s.TimeEnd < 0 {
		return fmt.Errorf("time_end must not be negative")
	}

	for i, p := range s.Plugins {
		if p.Name == "" || p.InputTopic == "" || p.OutputTopic == "" {
			return fmt.Errorf("plugins[%d]: name, input_topic and output_topic are required", i)
		}
	}

	if !validDistros[strings.ToLower(s.ROSDistro)] {
		return fmt.Errorf("invalid ros_distro: %s", s.ROSDistro)
	}

	return nil
}

// CutSettings describes one cutting run, splitting an input file into
// multiple outputs.
type CutSettings struct {
	// KeepTFTree replays all static transforms at the start of each output.
	KeepTFTree bool `yaml:"keep_tf_tree"`

	// Splits lists explicit time windows, in seconds.
	Splits []CutSplit `yaml:"splits"`

	// SplitOnTopic starts a new output whenever the topic publishes.
	SplitOnTopic *CutSplitOn `yaml:"split_on_topic"`
}

// CutSplit is one output window.
type CutSplit struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Name  string  `yaml:"name"`
}

// CutSplitOn splits on messages of a trigger topic.
type CutSplitOn struct {
	Topic string `yaml:"topic"`

	// Debounce is the minimum number of seconds between splits.
	Debounce float64 `yaml:"debounce"`
}

// LoadCutSettings reads and validates a cut settings file.
func LoadCutSettings(path string) (*CutSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cut settings file: %w", err)
	}
	settings := &CutSettings{}
	if err := yaml.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("failed to parse cut settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cut settings: %w", err)
	}
	return settings, nil
}

// Validate validates the cut settings
func (s *CutSettings) Validate() error {
	if len(s.Splits) == 0 && s.SplitOnTopic == nil {
		return fmt.Errorf("either splits or split_on_topic must be set")
	}

	names := make(map[string]bool, len(s.Splits))
	for i, split := range s.Splits {
		if split.End < split.Start {
			return fmt.Errorf("splits[%d]: end must not be before start", i)
		}
		if split.Name == "" {
			return fmt.Errorf("splits[%d]: name is required", i)
		}
		if names[split.Name] {
			return fmt.Errorf("duplicate split name: %s", split.Name)
		}
		names[split.Name] = true
	}

	if s.SplitOnTopic != nil {
		if s.SplitOnTopic.Topic == "" {
			return fmt.Errorf("split_on_topic.topic is required")
		}
		if s.SplitOnTopic.Debounce < 0 {
			return fmt.Errorf("split_on_topic.debounce must not be negative")
		}
	}

	return nil
}
