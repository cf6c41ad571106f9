package remux

import "fmt"

// PluginNotFoundError indicates a configured plugin is not registered.
type PluginNotFoundError struct {
	Name string
}

func (e PluginNotFoundError) Error() string {
	return fmt.Sprintf("plugin not registered: %s", e.Name)
}

// SchemaNotFoundError indicates a required schema definition could not be
// resolved.
type SchemaNotFoundError struct {
	Name string
}

func (e SchemaNotFoundError) Error() string {
	return fmt.Sprintf("schema definition not found: %s", e.Name)
}

// UnsupportedProfileError indicates an input file with a profile the
// converter cannot transcode.
type UnsupportedProfileError struct {
	Profile string
}

func (e UnsupportedProfileError) Error() string {
	return fmt.Sprintf("unsupported input profile: %q", e.Profile)
}
