package rosdistro

import (
	"fmt"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"
)

// delta is one differing leaf between two yaml documents. Left or Right is
// nil when the key only exists on one side. Path holds the map keys from
// the document root down to the differing value.
type delta struct {
	Left  any
	Right any
	Path  []string
}

// parseManifest decodes manifest yaml into generic values. Empty input
// decodes to nil, which diffDocuments treats as an absent document.
func parseManifest(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var doc any

	err := yaml.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fmt.Errorf("parse manifest yaml: %w", err)
	}

	return doc, nil
}

// diffDocuments walks two decoded yaml documents in parallel and collects
// every differing leaf. Maps recurse per key; anything else that compares
// unequal is a leaf delta at the current path.
func diffDocuments(a, b any) []delta {
	return diffValues(a, b, nil)
}

func diffValues(a, b any, path []string) []delta {
	aMap, aOK := asStringMap(a)
	bMap, bOK := asStringMap(b)

	if aOK && bOK {
		var deltas []delta

		for _, key := range unionKeys(aMap, bMap) {
			childPath := append(append([]string{}, path...), key)

			aVal, inA := aMap[key]
			bVal, inB := bMap[key]

			switch {
			case inA && inB:
				deltas = append(deltas, diffValues(aVal, bVal, childPath)...)
			case inA:
				deltas = append(deltas, delta{Left: aVal, Path: childPath})
			default:
				deltas = append(deltas, delta{Right: bVal, Path: childPath})
			}
		}

		return deltas
	}

	if !reflect.DeepEqual(a, b) {
		return []delta{{Left: a, Right: b, Path: path}}
	}

	return nil
}

// asStringMap normalizes the two map shapes yaml decoding can produce.
func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for key, val := range m {
			out[fmt.Sprint(key)] = val
		}

		return out, true
	default:
		return nil, false
	}
}

// unionKeys returns the sorted union of both maps' keys. A stable order
// keeps change_index assignment deterministic across runs.
func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))

	for key := range a {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	for key := range b {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	return keys
}

// wildMatch compares a diff path against a pattern where "*" matches any
// single component. With checkLength false, a longer path still matches as
// long as the pattern's prefix does.
func wildMatch(path, pattern []string, checkLength bool) bool {
	if checkLength && len(path) != len(pattern) {
		return false
	}

	limit := len(pattern)
	if len(path) < limit {
		limit = len(path)
	}

	for i := 0; i < limit; i++ {
		if pattern[i] == "*" || path[i] == "*" {
			continue
		}

		if path[i] != pattern[i] {
			return false
		}
	}

	return true
}

// deltaVerb derives the change verb for one delta: an empty left side is
// an add, an empty right side a del, anything else an update. Empty
// containers count as absent, matching how sparse manifest edits read.
func deltaVerb(d delta) string {
	leftEmpty := isEmptyValue(d.Left)
	rightEmpty := isEmptyValue(d.Right)

	switch {
	case leftEmpty && !rightEmpty:
		return VerbAdd
	case rightEmpty && !leftEmpty:
		return VerbDel
	default:
		return VerbUpdate
	}
}

// arrayVerb classifies a change to a list value by set difference: pure
// additions are an add, pure removals a del, anything mixed an update.
func arrayVerb(left, right any) string {
	if left == nil && right != nil {
		return VerbAdd
	}

	if right == nil && left != nil {
		return VerbDel
	}

	leftSet := stringSet(left)
	rightSet := stringSet(right)

	removed := false
	added := false

	for item := range leftSet {
		if _, ok := rightSet[item]; !ok {
			removed = true
		}
	}

	for item := range rightSet {
		if _, ok := leftSet[item]; !ok {
			added = true
		}
	}

	switch {
	case removed && !added:
		return VerbDel
	case added && !removed:
		return VerbAdd
	default:
		return VerbUpdate
	}
}

func stringSet(v any) map[string]struct{} {
	set := make(map[string]struct{})

	items, ok := v.([]any)
	if !ok {
		return set
	}

	for _, item := range items {
		set[fmt.Sprint(item)] = struct{}{}
	}

	return set
}

// isEmptyValue reports whether a yaml value counts as absent: nil, empty
// string, empty container, zero number or false.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case int:
		return val == 0
	case int64:
		return val == 0
	case float64:
		return val == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case map[any]any:
		return len(val) == 0
	default:
		return false
	}
}
