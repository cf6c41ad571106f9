package remux

import (
	"hash/crc32"

	"github.com/bagtools/remux/internal/mcap"
)

type outputSchemaKey struct {
	name     string
	encoding string
	dataCRC  uint32
}

// OutputRegistry deduplicates schema and channel registration on the
// output writer. Schemas are identified by name, encoding and definition
// content; channels by topic. Registering the same identity twice returns
// the first id.
type OutputRegistry struct {
	writer   *mcap.Writer
	schemas  map[outputSchemaKey]uint16
	channels map[string]uint16
}

// NewOutputRegistry wraps a started writer.
func NewOutputRegistry(w *mcap.Writer) *OutputRegistry {
	return &OutputRegistry{
		writer:   w,
		schemas:  make(map[outputSchemaKey]uint16),
		channels: make(map[string]uint16),
	}
}

// Schema registers a schema, reusing the id of an identical registration.
func (r *OutputRegistry) Schema(name, encoding string, data []byte) (uint16, error) {
	key := outputSchemaKey{name: name, encoding: encoding, dataCRC: crc32.ChecksumIEEE(data)}
	if id, ok := r.schemas[key]; ok {
		return id, nil
	}
	id, err := r.writer.AddSchema(name, encoding, data)
	if err != nil {
		return 0, err
	}
	r.schemas[key] = id
	return id, nil
}

// Channel registers a channel, reusing the id of a previous registration
// for the same topic.
func (r *OutputRegistry) Channel(topic, messageEncoding string, schemaID uint16, metadata map[string]string) (uint16, error) {
	if id, ok := r.channels[topic]; ok {
		return id, nil
	}
	id, err := r.writer.AddChannel(topic, messageEncoding, schemaID, metadata)
	if err != nil {
		return 0, err
	}
	r.channels[topic] = id
	return id, nil
}

// HasChannel reports whether the topic was already registered.
func (r *OutputRegistry) HasChannel(topic string) bool {
	_, ok := r.channels[topic]
	return ok
}

// ChannelID returns the output id of a registered topic.
func (r *OutputRegistry) ChannelID(topic string) (uint16, bool) {
	id, ok := r.channels[topic]
	return id, ok
}
