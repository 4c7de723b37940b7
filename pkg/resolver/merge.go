package resolver

import (
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// mergeValues merges an overlay value onto a base value. Objects and maps
// merge key by key, recursing on keys present in both. Everything else,
// lists included, is replaced wholesale by the overlay. List concatenation
// is opt-in via the append() function.
func mergeValues(base, overlay cty.Value) cty.Value {
	if base == cty.NilVal || base.IsNull() {
		return overlay
	}
	if overlay == cty.NilVal || overlay.IsNull() {
		return base
	}

	if !isMapping(base) || !isMapping(overlay) {
		return overlay
	}

	merged := make(map[string]cty.Value)
	for it := base.ElementIterator(); it.Next(); {
		k, v := it.Element()
		merged[k.AsString()] = v
	}
	for it := overlay.ElementIterator(); it.Next(); {
		k, v := it.Element()
		key := k.AsString()
		if existing, ok := merged[key]; ok {
			merged[key] = mergeValues(existing, v)
		} else {
			merged[key] = v
		}
	}

	if len(merged) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(merged)
}

func isMapping(val cty.Value) bool {
	return val.IsKnown() && (val.Type().IsObjectType() || val.Type().IsMapType())
}

// sortedKeys returns a mapping value's keys in lexicographic order.
func sortedKeys(val cty.Value) []string {
	if !isMapping(val) {
		return nil
	}
	var keys []string
	for it := val.ElementIterator(); it.Next(); {
		k, _ := it.Element()
		keys = append(keys, k.AsString())
	}
	sort.Strings(keys)
	return keys
}
