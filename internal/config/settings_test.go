package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings_Defaults(t *testing.T) {
	settings, raw, err := LoadSettings("")
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.Equal(t, "./msgs", settings.MsgFolder)
	assert.True(t, settings.SaveMetadata)
	assert.Equal(t, "humble", settings.ROSDistro)
}

func TestLoadSettings_Overrides(t *testing.T) {
	content := `topic:
  mapping:
    /old: /new
  drop:
    /lidar: 4
tf_static:
  insert:
    - frame_id: base_link
      child_frame_id: lidar
      translation:
        x: 1.5
time_end: 30
keep_all_static_tf: true
save_metadata: false
ros_distro: jazzy
`
	path := writeSettingsFile(t, content)

	settings, raw, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, []byte(content), raw)
	assert.Equal(t, "/new", settings.Topic.Mapping["/old"])
	assert.Equal(t, 4, settings.Topic.Drop["/lidar"])
	require.Len(t, settings.TFStatic.Insert, 1)
	require.NotNil(t, settings.TFStatic.Insert[0].Translation)
	assert.Equal(t, 1.5, settings.TFStatic.Insert[0].Translation.X)
	require.NotNil(t, settings.TimeEnd)
	assert.Equal(t, 30.0, *settings.TimeEnd)
	assert.True(t, settings.KeepAllStaticTF)
	assert.False(t, settings.SaveMetadata)
	assert.Equal(t, "jazzy", settings.ROSDistro)
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, _, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSettings_Validate(t *testing.T) {
	negative := -1.0

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Settings) {},
		},
		{
			name: "insert on dynamic tf",
			mutate: func(s *Settings) {
				s.TF.Insert = []SettingTFInsert{{FrameID: "a", ChildFrameID: "b"}}
			},
			wantErr: "tf.insert",
		},
		{
			name: "non-positive drop factor",
			mutate: func(s *Settings) {
				s.Topic.Drop = map[string]int{"/lidar": 0}
			},
			wantErr: "factor must be positive",
		},
		{
			name: "negative start",
			mutate: func(s *Settings) {
				s.TimeStart = &negative
			},
			wantErr: "time_start",
		},
		{
			name: "incomplete plugin",
			mutate: func(s *Settings) {
				s.Plugins = []SettingPlugin{{Name: "foo.Bar"}}
			},
			wantErr: "plugins[0]",
		},
		{
			name: "unknown distro",
			mutate: func(s *Settings) {
				s.ROSDistro = "dashing"
			},
			wantErr: "invalid ros_distro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultSettings()
			tt.mutate(settings)
			err := settings.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCutSettings_Validate(t *testing.T) {
	tests := []struct {
		name     string
		settings CutSettings
		wantErr  string
	}{
		{
			name: "splits",
			settings: CutSettings{
				Splits: []CutSplit{{Start: 0, End: 10, Name: "a"}},
			},
		},
		{
			name: "split on topic",
			settings: CutSettings{
				SplitOnTopic: &CutSplitOn{Topic: "/marker", Debounce: 1},
			},
		},
		{
			name:    "no mode",
			wantErr: "either splits or split_on_topic",
		},
		{
			name: "end before start",
			settings: CutSettings{
				Splits: []CutSplit{{Start: 5, End: 1, Name: "a"}},
			},
			wantErr: "end must not be before start",
		},
		{
			name: "missing name",
			settings: CutSettings{
				Splits: []CutSplit{{Start: 0, End: 1}},
			},
			wantErr: "name is required",
		},
		{
			name: "duplicate name",
			settings: CutSettings{
				Splits: []CutSplit{
					{Start: 0, End: 1, Name: "a"},
					{Start: 2, End: 3, Name: "a"},
				},
			},
			wantErr: "duplicate split name",
		},
		{
			name: "missing trigger topic",
			settings: CutSettings{
				SplitOnTopic: &CutSplitOn{},
			},
			wantErr: "split_on_topic.topic",
		},
		{
			name: "negative debounce",
			settings: CutSettings{
				SplitOnTopic: &CutSplitOn{Topic: "/marker", Debounce: -1},
			},
			wantErr: "debounce must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadCutSettings(t *testing.T) {
	content := `keep_tf_tree: true
splits:
  - start: 10
    end: 20
    name: approach
`
	path := filepath.Join(t.TempDir(), "cut.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	settings, err := LoadCutSettings(path)
	require.NoError(t, err)
	assert.True(t, settings.KeepTFTree)
	require.Len(t, settings.Splits, 1)
	assert.Equal(t, "approach", settings.Splits[0].Name)
}
