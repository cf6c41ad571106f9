package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates the wire kinds a message field can have.
type Kind int

const (
	KindBool Kind = iota
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindTime
	KindDuration
	KindComplex
)

// FieldType describes the type of one field.
type FieldType struct {
	Kind Kind
	// TypeName is the canonical "pkg/Name" for complex fields.
	TypeName string
	IsArray  bool
	// ArraySize is the fixed element count; zero means a variable-length
	// sequence (bounded sequences are treated as variable).
	ArraySize int
}

// Field is one named field of a message type.
type Field struct {
	Name string
	Type FieldType
}

// MessageSpec is the compiled shape of one message type.
type MessageSpec struct {
	Name    string // canonical pkg/Name
	Package string
	Fields  []Field
}

// Definition is a compiled message definition: the root type plus every
// transitively referenced type, as found in concatenated definition text.
// Never mutated after creation.
type Definition struct {
	Root  *MessageSpec
	Specs map[string]*MessageSpec
}

const builtinPackage = "builtin_interfaces"

// CanonicalName strips the "/msg/" segment: "pkg/msg/Name" -> "pkg/Name".
func CanonicalName(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) == 3 && parts[1] == "msg" {
		return parts[0] + "/" + parts[2]
	}
	return name
}

func packageOf(canonical string) string {
	if i := strings.Index(canonical, "/"); i >= 0 {
		return canonical[:i]
	}
	return ""
}

var ros2Primitives = map[string]Kind{
	"bool":    KindBool,
	"byte":    KindUint8,
	"char":    KindUint8,
	"int8":    KindInt8,
	"uint8":   KindUint8,
	"int16":   KindInt16,
	"uint16":  KindUint16,
	"int32":   KindInt32,
	"uint32":  KindUint32,
	"int64":   KindInt64,
	"uint64":  KindUint64,
	"float32": KindFloat32,
	"float64": KindFloat64,
	"string":  KindString,
}

var ros1Primitives = map[string]Kind{
	"bool":     KindBool,
	"byte":     KindInt8,
	"char":     KindUint8,
	"int8":     KindInt8,
	"uint8":    KindUint8,
	"int16":    KindInt16,
	"uint16":   KindUint16,
	"int32":    KindInt32,
	"uint32":   KindUint32,
	"int64":    KindInt64,
	"uint64":   KindUint64,
	"float32":  KindFloat32,
	"float64":  KindFloat64,
	"string":   KindString,
	"time":     KindTime,
	"duration": KindDuration,
}

// parseFieldType parses one field type token in the context of a package.
func parseFieldType(token, pkg string, ros1 bool) (FieldType, error) {
	ft := FieldType{}
	base := token

	if i := strings.Index(base, "["); i >= 0 {
		if !strings.HasSuffix(base, "]") {
			return ft, fmt.Errorf("malformed array suffix in %q", token)
		}
		bound := base[i+1 : len(base)-1]
		ft.IsArray = true
		bound = strings.TrimPrefix(bound, "<=")
		if bound != "" {
			n, err := strconv.Atoi(bound)
			if err != nil {
				return ft, fmt.Errorf("malformed array bound in %q", token)
			}
			if !strings.Contains(base[i:], "<=") {
				ft.ArraySize = n
			}
		}
		base = base[:i]
	}

	// Bounded strings carry an inline upper bound that has no wire effect.
	if i := strings.Index(base, "<="); i >= 0 {
		base = base[:i]
	}

	prims := ros2Primitives
	if ros1 {
		prims = ros1Primitives
	}
	if kind, ok := prims[base]; ok {
		ft.Kind = kind
		return ft, nil
	}
	if base == "wstring" {
		return ft, fmt.Errorf("wstring fields are not supported")
	}

	name := base
	if !strings.Contains(name, "/") {
		if name == "Header" {
			name = "std_msgs/Header"
		} else {
			name = pkg + "/" + name
		}
	}
	name = CanonicalName(name)
	switch name {
	case builtinPackage + "/Time":
		ft.Kind = KindTime
	case builtinPackage + "/Duration":
		ft.Kind = KindDuration
	default:
		ft.Kind = KindComplex
		ft.TypeName = name
	}
	return ft, nil
}

// ParseMessageString parses the body of a single .msg definition and
// returns its spec plus the canonical names of the complex types it
// references (excluding builtins).
func ParseMessageString(pkg, name, text string, ros1 bool) (*MessageSpec, []string, error) {
	spec := &MessageSpec{Name: pkg + "/" + name, Package: pkg}
	var deps []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(text, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Constants have no wire presence.
		if isConstant(line) {
			continue
		}
		tokens := strings.Fields(line)
		if len(tokens) < 2 {
			return nil, nil, DefinitionError{Type: spec.Name, Reason: fmt.Sprintf("malformed field line %q", line)}
		}
		ft, err := parseFieldType(tokens[0], pkg, ros1)
		if err != nil {
			return nil, nil, DefinitionError{Type: spec.Name, Reason: err.Error()}
		}
		spec.Fields = append(spec.Fields, Field{Name: tokens[1], Type: ft})
		if ft.Kind == KindComplex && !seen[ft.TypeName] {
			seen[ft.TypeName] = true
			deps = append(deps, ft.TypeName)
		}
	}
	return spec, deps, nil
}

// isConstant reports whether a field line declares a constant
// (e.g. "int32 FOO=1"). Default values use whitespace, not '='.
func isConstant(line string) bool {
	tokens := strings.SplitN(line, " ", 2)
	if len(tokens) < 2 {
		return false
	}
	return strings.Contains(tokens[1], "=") && !strings.Contains(tokens[0], "<=")
}

// ParseDefinition compiles concatenated definition text (sections split by
// a line of '=' characters followed by "MSG: pkg/Name") into a Definition
// rooted at rootName.
func ParseDefinition(rootName, text string, ros1 bool) (*Definition, error) {
	root := CanonicalName(rootName)
	def := &Definition{Specs: make(map[string]*MessageSpec)}

	sectionName := root
	var body strings.Builder

	flush := func() error {
		if sectionName == "" {
			return nil
		}
		name := CanonicalName(sectionName)
		if packageOf(name) == builtinPackage {
			// Time and Duration are handled natively.
			return nil
		}
		pkg := packageOf(name)
		short := name[strings.Index(name, "/")+1:]
		spec, _, err := ParseMessageString(pkg, short, body.String(), ros1)
		if err != nil {
			return err
		}
		if _, exists := def.Specs[name]; !exists {
			def.Specs[name] = spec
		}
		return nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) >= 3 && strings.Count(trimmed, "=") == len(trimmed) {
			if err := flush(); err != nil {
				return nil, err
			}
			sectionName = ""
			body.Reset()
			continue
		}
		if sectionName == "" {
			if trimmed == "" {
				continue
			}
			if !strings.HasPrefix(trimmed, "MSG:") {
				return nil, DefinitionError{Type: root, Reason: "definition section is missing its MSG header"}
			}
			sectionName = strings.TrimSpace(strings.TrimPrefix(trimmed, "MSG:"))
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := flush(); err != nil {
		return nil, err
	}

	def.Root = def.Specs[root]
	if def.Root == nil {
		return nil, DefinitionError{Type: root, Reason: "root type not present in definition text"}
	}
	// Every complex reference must resolve within the definition.
	for _, spec := range def.Specs {
		for _, f := range spec.Fields {
			if f.Type.Kind == KindComplex && def.Specs[f.Type.TypeName] == nil {
				return nil, DefinitionError{
					Type:   spec.Name,
					Reason: fmt.Sprintf("field %q references undefined type %s", f.Name, f.Type.TypeName),
				}
			}
		}
	}
	return def, nil
}

// HasHeaderFrameID reports whether the root type starts with a standard
// header carrying a frame id, letting callers rewrite it without guessing
// at runtime shapes.
func (d *Definition) HasHeaderFrameID() bool {
	for _, f := range d.Root.Fields {
		if f.Name == "header" && f.Type.Kind == KindComplex && !f.Type.IsArray {
			header := d.Specs[f.Type.TypeName]
			if header == nil {
				return false
			}
			for _, hf := range header.Fields {
				if hf.Name == "frame_id" && hf.Type.Kind == KindString {
					return true
				}
			}
		}
	}
	return false
}
