package remux

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// QoS policy values, matching the enums defined in rmw/types.h.
type (
	HistoryPolicy     int
	ReliabilityPolicy int
	DurabilityPolicy  int
	LivelinessPolicy  int
)

const (
	HistorySystemDefault HistoryPolicy = 0
	HistoryKeepLast      HistoryPolicy = 1
	HistoryKeepAll       HistoryPolicy = 2
)

const (
	ReliabilitySystemDefault ReliabilityPolicy = 0
	ReliabilityReliable      ReliabilityPolicy = 1
	ReliabilityBestEffort    ReliabilityPolicy = 2
)

const (
	DurabilitySystemDefault  DurabilityPolicy = 0
	DurabilityTransientLocal DurabilityPolicy = 1
	DurabilityVolatile       DurabilityPolicy = 2
)

const (
	LivelinessSystemDefault LivelinessPolicy = 0
	LivelinessAutomatic     LivelinessPolicy = 1
	LivelinessManualByTopic LivelinessPolicy = 3
)

// QoSDuration is a duration in the channel metadata representation.
type QoSDuration struct {
	Sec  int64 `yaml:"sec"`
	NSec int64 `yaml:"nsec"`
}

var (
	QoSDurationDefault  = QoSDuration{Sec: 0, NSec: 0}
	QoSDurationInfinite = QoSDuration{Sec: 9223372036, NSec: 854775807}
)

// QoSProfile is one entry of the offered_qos_profiles channel metadata
// blob.
type QoSProfile struct {
	History                      HistoryPolicy     `yaml:"history"`
	Depth                        int               `yaml:"depth"`
	Reliability                  ReliabilityPolicy `yaml:"reliability"`
	Durability                   DurabilityPolicy  `yaml:"durability"`
	Deadline                     QoSDuration       `yaml:"deadline"`
	Lifespan                     QoSDuration       `yaml:"lifespan"`
	Liveliness                   LivelinessPolicy  `yaml:"liveliness"`
	LivelinessLeaseDuration      QoSDuration       `yaml:"liveliness_lease_duration"`
	AvoidROSNamespaceConventions bool              `yaml:"avoid_ros_namespace_conventions"`
}

// DefaultQoSProfile returns the profile synthesized for channels without
// QoS metadata.
func DefaultQoSProfile() QoSProfile {
	return QoSProfile{
		History:     HistoryKeepLast,
		Depth:       10,
		Reliability: ReliabilityBestEffort,
		Durability:  DurabilityVolatile,
	}
}

// ParseQoSProfiles parses the offered_qos_profiles metadata value.
func ParseQoSProfiles(raw string) ([]QoSProfile, error) {
	var profiles []QoSProfile
	if err := yaml.Unmarshal([]byte(raw), &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse qos profiles: %w", err)
	}
	return profiles, nil
}

// DumpQoSProfiles serializes profiles into the offered_qos_profiles
// metadata representation.
func DumpQoSProfiles(profiles []QoSProfile) (string, error) {
	out, err := yaml.Marshal(profiles)
	if err != nil {
		return "", fmt.Errorf("failed to serialize qos profiles: %w", err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}
