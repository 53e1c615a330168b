package domain

import (
	"encoding/json"
	"fmt"
)

// CloneObject produces a deep copy of a governed document via its JSON
// representation. Stores rely on this to keep transactional state isolated
// from caller-held references.
func CloneObject(obj Object) (Object, error) {
	if obj == nil {
		return nil, fmt.Errorf("cannot clone nil object")
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", obj.ObjectType(), err)
	}
	fresh, ok := NewObject(obj.ObjectType())
	if !ok {
		return nil, fmt.Errorf("unknown object type %q", obj.ObjectType())
	}
	if err := json.Unmarshal(raw, fresh); err != nil {
		return nil, fmt.Errorf("decode %s: %w", obj.ObjectType(), err)
	}
	return fresh, nil
}

// MustCloneObject is CloneObject for callers that treat failure as a
// programming error.
func MustCloneObject(obj Object) Object {
	cloned, err := CloneObject(obj)
	if err != nil {
		panic(err)
	}
	return cloned
}

// ApplyFields overlays JSON-shaped field values onto a governed document.
// Top-level fields replace wholesale; absent fields keep their value.
func ApplyFields(obj Object, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode %s: %w", obj.ObjectType(), err)
	}
	var image map[string]any
	if err := json.Unmarshal(raw, &image); err != nil {
		return fmt.Errorf("decode %s: %w", obj.ObjectType(), err)
	}
	for key, value := range fields {
		image[key] = value
	}
	merged, err := json.Marshal(image)
	if err != nil {
		return fmt.Errorf("encode merged %s: %w", obj.ObjectType(), err)
	}
	if err := json.Unmarshal(merged, obj); err != nil {
		return fmt.Errorf("apply fields to %s: %w", obj.ObjectType(), err)
	}
	return nil
}

// CloneAmendment deep-copies an amendment record.
func CloneAmendment(a Amendment) Amendment {
	cp := a
	cp.Signatures = append([]AmendmentSignature(nil), a.Signatures...)
	cp.Difference = cloneAnyMap(a.Difference)
	return cp
}

// CloneActivityEntry deep-copies an activity entry.
func CloneActivityEntry(e ActivityEntry) ActivityEntry {
	cp := e
	cp.Data = cloneAnyMap(e.Data)
	cp.Change = cloneAnyMap(e.Change)
	if e.ActorID != nil {
		actor := *e.ActorID
		cp.ActorID = &actor
	}
	return cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAnyValue(v)
	}
	return out
}

func cloneAnyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneAnyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneAnyValue(item)
		}
		return out
	default:
		return v
	}
}
