package history

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"rulehub/internal/rules"
)

// DiffRules diffs two rule snapshots structurally. Both snapshots are
// round-tripped through JSON so the comparison sees exactly what a stored
// version contains, with stable primitive types.
func DiffRules(from, to *rules.Rule) ([]DiffItem, error) {
	a, err := toDocument(from)
	if err != nil {
		return nil, err
	}
	b, err := toDocument(to)
	if err != nil {
		return nil, err
	}

	var items []DiffItem
	diffValue("", a, b, &items)
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

// DiffValues diffs two arbitrary JSON-shaped values the same way, rooted
// at an empty path. Used for comparing evaluation outputs.
func DiffValues(from, to interface{}) ([]DiffItem, error) {
	a, err := normalizeValue(from)
	if err != nil {
		return nil, err
	}
	b, err := normalizeValue(to)
	if err != nil {
		return nil, err
	}

	var items []DiffItem
	diffValue("", a, b, &items)
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

func normalizeValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return out, nil
}

func toDocument(r *rules.Rule) (map[string]interface{}, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule document: %w", err)
	}
	return doc, nil
}

func diffValue(path string, old, new interface{}, out *[]DiffItem) {
	switch oldVal := old.(type) {
	case map[string]interface{}:
		newVal, ok := new.(map[string]interface{})
		if !ok {
			*out = append(*out, DiffItem{Path: path, Kind: DiffChanged, OldValue: old, NewValue: new})
			return
		}
		diffMaps(path, oldVal, newVal, out)
	case []interface{}:
		newVal, ok := new.([]interface{})
		if !ok {
			*out = append(*out, DiffItem{Path: path, Kind: DiffChanged, OldValue: old, NewValue: new})
			return
		}
		diffSlices(path, oldVal, newVal, out)
	default:
		if !reflect.DeepEqual(old, new) {
			*out = append(*out, DiffItem{Path: path, Kind: DiffChanged, OldValue: old, NewValue: new})
		}
	}
}

func diffMaps(path string, old, new map[string]interface{}, out *[]DiffItem) {
	for key, oldVal := range old {
		childPath := joinPath(path, key)
		newVal, ok := new[key]
		if !ok {
			*out = append(*out, DiffItem{Path: childPath, Kind: DiffRemoved, OldValue: oldVal})
			continue
		}
		diffValue(childPath, oldVal, newVal, out)
	}
	for key, newVal := range new {
		if _, ok := old[key]; !ok {
			*out = append(*out, DiffItem{Path: joinPath(path, key), Kind: DiffAdded, NewValue: newVal})
		}
	}
}

// diffSlices treats arrays as indexable objects: each index is a path
// segment, extra trailing elements are added/removed.
func diffSlices(path string, old, new []interface{}, out *[]DiffItem) {
	shared := len(old)
	if len(new) < shared {
		shared = len(new)
	}
	for i := 0; i < shared; i++ {
		diffValue(joinPath(path, fmt.Sprintf("%d", i)), old[i], new[i], out)
	}
	for i := shared; i < len(old); i++ {
		*out = append(*out, DiffItem{Path: joinPath(path, fmt.Sprintf("%d", i)), Kind: DiffRemoved, OldValue: old[i]})
	}
	for i := shared; i < len(new); i++ {
		*out = append(*out, DiffItem{Path: joinPath(path, fmt.Sprintf("%d", i)), Kind: DiffAdded, NewValue: new[i]})
	}
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
