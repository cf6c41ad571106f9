package codec

import "github.com/bagtools/remux/internal/mcap"

// DecodedMessage wraps one schema/channel/message triple with a memoized
// decoded value. Decoding happens at most once; re-encoding reflects the
// memoized value only if decoding ever happened, otherwise the original
// payload bytes pass through untouched.
type DecodedMessage struct {
	Schema  *mcap.Schema
	Channel *mcap.Channel
	Message *mcap.Message

	registry *Registry
	value    any
	decoded  bool
}

// NewDecodedMessage wraps a message for lazy decoding through a registry.
func NewDecodedMessage(reg *Registry, schema *mcap.Schema, channel *mcap.Channel, msg *mcap.Message) *DecodedMessage {
	return &DecodedMessage{
		Schema:   schema,
		Channel:  channel,
		Message:  msg,
		registry: reg,
	}
}

// Decoded returns the structured value of the payload, decoding on first
// call.
func (m *DecodedMessage) Decoded() (any, error) {
	if m.decoded {
		return m.value, nil
	}
	if m.Schema == nil {
		return nil, DecodeError{Schema: "", Reason: "message has no schema"}
	}
	decoder, err := m.registry.DecoderFor(m.Schema)
	if err != nil {
		return nil, err
	}
	v, err := decoder(m.Message.Data)
	if err != nil {
		return nil, err
	}
	m.value = v
	m.decoded = true
	return v, nil
}

// WasDecoded reports whether the payload has been decoded.
func (m *DecodedMessage) WasDecoded() bool { return m.decoded }

// Reencode returns the payload bytes to write out: the original bytes
// verbatim when the message was never decoded, else the memoized value
// re-serialized. ROS1 inputs re-encode as CDR so the output stays a
// uniform ros2 profile.
func (m *DecodedMessage) Reencode() ([]byte, error) {
	if !m.decoded {
		return m.Message.Data, nil
	}
	if m.Schema.Encoding == mcap.SchemaEncodingROS1 {
		def := m.registry.DefinitionFor(m.Schema)
		value, ok := m.value.(map[string]any)
		if !ok {
			return nil, EncodeError{Schema: m.Schema.Name, Reason: "value is not a decoded message"}
		}
		data, err := EncodeCDR(def, value)
		if err != nil {
			return nil, EncodeError{Schema: m.Schema.Name, Reason: err.Error()}
		}
		return data, nil
	}
	encoder, err := m.registry.EncoderFor(m.Schema)
	if err != nil {
		return nil, err
	}
	return encoder(m.value)
}
