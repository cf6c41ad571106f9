package remux

import (
	"sort"
	"sync"
)

// Plugin derives messages on a new topic from decoded input messages.
type Plugin interface {
	// OutputSchema names the schema of the derived messages.
	OutputSchema() string

	// Convert maps one decoded message to a derived one. A nil result
	// without error means no output for this input.
	Convert(msg map[string]any) (map[string]any, error)
}

// PluginFactory builds a plugin instance from its settings blob.
type PluginFactory func(settings map[string]any) (Plugin, error)

var (
	pluginMu      sync.RWMutex
	pluginFactory = map[string]PluginFactory{}
)

// RegisterPlugin makes a plugin available under the given name. Intended
// to be called from init functions of plugin packages.
func RegisterPlugin(name string, factory PluginFactory) {
	pluginMu.Lock()
	defer pluginMu.Unlock()
	pluginFactory[name] = factory
}

// NewPlugin instantiates a registered plugin.
func NewPlugin(name string, settings map[string]any) (Plugin, error) {
	pluginMu.RLock()
	factory, ok := pluginFactory[name]
	pluginMu.RUnlock()
	if !ok {
		return nil, PluginNotFoundError{Name: name}
	}
	return factory(settings)
}

// Plugins lists the registered plugin names.
func Plugins() []string {
	pluginMu.RLock()
	defer pluginMu.RUnlock()
	names := make([]string, 0, len(pluginFactory))
	for name := range pluginFactory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
