package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Value is a field-keyed structured payload: state values, event data, and
// conflict resolution data all use it. Field values are restricted to the
// JSON variant set (nil, bool, float64, string, []any, map[string]any) so
// that field comparison during merge resolution is well-defined. Values
// decoded from JSON satisfy this by construction; programmatically built
// values should pass Validate before storage.
type Value map[string]any

// Validate checks that every field holds a JSON-variant value.
func (v Value) Validate() error {
	for k, fv := range v {
		if err := checkVariant(fv); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

// checkVariant recursively verifies membership in the closed variant set.
func checkVariant(v any) error {
	switch x := v.(type) {
	case nil, bool, float64, string:
		return nil
	case []any:
		for i, e := range x {
			if err := checkVariant(e); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	case map[string]any:
		for k, e := range x {
			if err := checkVariant(e); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported variant %T", v)
	}
}

// Clone returns a deep copy of v via a JSON round trip. A nil value clones
// to nil.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out Value
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// Equal reports whether two values have identical canonical JSON encodings.
func (v Value) Equal(other Value) bool {
	return canonical(map[string]any(v)) == canonical(map[string]any(other))
}

// fieldEqual compares two field values by canonical JSON encoding.
// encoding/json writes map keys in sorted order, so the comparison is
// deterministic for the whole variant set.
func fieldEqual(a, b any) bool {
	return canonical(a) == canonical(b)
}

func canonical(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// ConflictingKeys returns, sorted, the keys present in both v and other
// whose values differ. An empty result means the two values are mergeable
// without choosing sides.
func (v Value) ConflictingKeys(other Value) []string {
	var keys []string
	for k, av := range v {
		bv, ok := other[k]
		if !ok {
			continue
		}
		if !fieldEqual(av, bv) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Union returns the merge of v and other: every field of v, plus the fields
// of other absent from v. Fields present in both keep v's value. The result
// is a fresh value; neither input is modified.
func (v Value) Union(other Value) Value {
	out := v.Clone()
	if out == nil {
		out = Value{}
	}
	for k, fv := range other {
		if _, exists := out[k]; !exists {
			out[k] = fv
		}
	}
	return out
}
