package codec

import (
	"sync"

	"github.com/bagtools/remux/internal/mcap"
)

// DecoderFunc decodes one payload into its structured form.
type DecoderFunc func(data []byte) (any, error)

// EncoderFunc serializes a structured value back into payload bytes.
type EncoderFunc func(v any) ([]byte, error)

// schemaKey identifies a schema by id, name and definition content. Ids
// alone are not sufficient: different files reuse the same small integers
// for different definitions.
type schemaKey struct {
	ID   uint16
	Name string
	Def  string
}

func keyOf(s *mcap.Schema) schemaKey {
	return schemaKey{ID: s.ID, Name: s.Name, Def: string(s.Data)}
}

type compiled struct {
	decoder DecoderFunc
	encoder EncoderFunc
	def     *Definition // ros families only
	err     error
}

// Registry compiles and caches decode/encode function pairs per schema
// identity. Compilation happens once on first use; later calls return the
// cached pair (or the cached compilation failure).
type Registry struct {
	mu    sync.RWMutex
	cache map[schemaKey]*compiled
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{cache: make(map[schemaKey]*compiled)}
}

func (r *Registry) compile(s *mcap.Schema) *compiled {
	key := keyOf(s)

	r.mu.RLock()
	c, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	c = &compiled{}
	switch s.Encoding {
	case mcap.SchemaEncodingROS2:
		def, err := ParseDefinition(s.Name, string(s.Data), false)
		if err != nil {
			c.err = DecodeError{Schema: s.Name, Reason: err.Error()}
			break
		}
		c.def = def
		c.decoder = func(data []byte) (any, error) {
			v, err := DecodeCDR(def, data)
			if err != nil {
				return nil, DecodeError{Schema: s.Name, Reason: err.Error()}
			}
			return v, nil
		}
		c.encoder = func(v any) ([]byte, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, EncodeError{Schema: s.Name, Reason: "value is not a decoded message"}
			}
			data, err := EncodeCDR(def, m)
			if err != nil {
				return nil, EncodeError{Schema: s.Name, Reason: err.Error()}
			}
			return data, nil
		}
	case mcap.SchemaEncodingROS1:
		def, err := ParseDefinition(s.Name, string(s.Data), true)
		if err != nil {
			c.err = DecodeError{Schema: s.Name, Reason: err.Error()}
			break
		}
		c.def = def
		c.decoder = func(data []byte) (any, error) {
			v, err := DecodeROS1(def, data)
			if err != nil {
				return nil, DecodeError{Schema: s.Name, Reason: err.Error()}
			}
			return v, nil
		}
		// ROS1 payloads are re-encoded as CDR on the output side; there
		// is no ROS1 encoder.
	case mcap.SchemaEncodingJSONSchema:
		schema, err := compileJSONSchema(s.Data)
		if err != nil {
			c.err = DecodeError{Schema: s.Name, Reason: err.Error()}
			break
		}
		c.decoder = newJSONDecoder(s.Name, schema)
		c.encoder = newJSONEncoder(s.Name, schema)
	case mcap.SchemaEncodingProtobuf:
		md, err := resolveProtoDescriptor(s.Name, s.Data)
		if err != nil {
			c.err = DecodeError{Schema: s.Name, Reason: err.Error()}
			break
		}
		c.decoder = newProtoDecoder(s.Name, md)
		c.encoder = newProtoEncoder(s.Name)
	default:
		c.err = UnsupportedEncodingError{Encoding: s.Encoding}
	}

	r.mu.Lock()
	if existing, ok := r.cache[key]; ok {
		c = existing
	} else {
		r.cache[key] = c
	}
	r.mu.Unlock()
	return c
}

// DecoderFor returns the cached decode function for a schema, compiling it
// on first use.
func (r *Registry) DecoderFor(s *mcap.Schema) (DecoderFunc, error) {
	c := r.compile(s)
	if c.err != nil {
		return nil, c.err
	}
	return c.decoder, nil
}

// EncoderFor returns the cached encode function for a schema.
func (r *Registry) EncoderFor(s *mcap.Schema) (EncoderFunc, error) {
	c := r.compile(s)
	if c.err != nil {
		return nil, c.err
	}
	if c.encoder == nil {
		return nil, EncodeError{Schema: s.Name, Reason: "encoding family has no encoder"}
	}
	return c.encoder, nil
}

// DefinitionFor returns the compiled ros1msg/ros2msg definition for a
// schema, or nil for other encoding families. Used by the schema-driven
// field visitors.
func (r *Registry) DefinitionFor(s *mcap.Schema) *Definition {
	c := r.compile(s)
	return c.def
}
