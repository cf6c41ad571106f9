package codec

// WalkTimestamps visits every Time-typed field reachable from a decoded
// value, driven by the compiled definition rather than by runtime shape
// probing. The visitor receives each {sec, nanosec} stamp map and may
// mutate it in place.
func WalkTimestamps(def *Definition, value map[string]any, visit func(stamp map[string]any)) {
	if def == nil || def.Root == nil {
		return
	}
	walkSpecTimestamps(def, def.Root, value, visit)
}

func walkSpecTimestamps(def *Definition, spec *MessageSpec, value map[string]any, visit func(stamp map[string]any)) {
	for _, f := range spec.Fields {
		v, ok := value[f.Name]
		if !ok {
			continue
		}
		switch f.Type.Kind {
		case KindTime:
			if f.Type.IsArray {
				if items, ok := v.([]any); ok {
					for _, item := range items {
						if stamp, ok := item.(map[string]any); ok {
							visit(stamp)
						}
					}
				}
			} else if stamp, ok := v.(map[string]any); ok {
				visit(stamp)
			}
		case KindComplex:
			sub := def.Specs[f.Type.TypeName]
			if sub == nil {
				continue
			}
			if f.Type.IsArray {
				if items, ok := v.([]any); ok {
					for _, item := range items {
						if m, ok := item.(map[string]any); ok {
							walkSpecTimestamps(def, sub, m, visit)
						}
					}
				}
			} else if m, ok := v.(map[string]any); ok {
				walkSpecTimestamps(def, sub, m, visit)
			}
		}
	}
}
