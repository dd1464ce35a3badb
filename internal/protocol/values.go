package protocol

import "reflect"

// NormalizeValue canonicalizes a field value that round-tripped through JSON
// so observer caches compare equal to authority state. Scalars pass through;
// homogeneous []any become []string or []float64.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return []string{}
		}
		if s, ok := toStrings(t); ok {
			return s
		}
		if f, ok := toFloats(t); ok {
			return f
		}
		return t
	case []string:
		return t
	case []float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return v
	}
}

// ValueEqual reports whether two field values are the same after
// normalization. Used for idempotent delta application.
func ValueEqual(a, b any) bool {
	return reflect.DeepEqual(NormalizeValue(a), NormalizeValue(b))
}

func toStrings(in []any) ([]string, bool) {
	out := make([]string, len(in))
	for i, v := range in {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

func toFloats(in []any) ([]float64, bool) {
	out := make([]float64, len(in))
	for i, v := range in {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
