// Package snapshot computes deep relation-aware images of governed documents
// and the recursive diffs recorded in activity entries.
package snapshot

import (
	"encoding/json"
	"fmt"

	"govcore/pkg/domain"
)

// RelationSpec declares one configured relation included in deep images.
type RelationSpec struct {
	Name string
	// Load resolves the related value from the transactional view. The
	// result is JSON-coerced into the image; nil loads image as null.
	Load func(view domain.TransactionView, obj domain.Object) (any, error)
	// Ignore lists map keys stripped from the related image at every
	// nesting level to break traversal cycles.
	Ignore []string
}

// Config declares the snapshot shape for one governed type.
type Config struct {
	Relations []RelationSpec
	// IgnoreFields strips engine bookkeeping from the document's own image.
	IgnoreFields []string
}

// Engine holds per-type snapshot configuration. It is populated at type
// registration and read-only afterwards.
type Engine struct {
	configs map[domain.ObjectType]Config
}

// NewEngine constructs an empty snapshot engine.
func NewEngine() *Engine {
	return &Engine{configs: make(map[domain.ObjectType]Config)}
}

// Configure installs the snapshot configuration for a governed type.
func (e *Engine) Configure(t domain.ObjectType, cfg Config) {
	e.configs[t] = cfg
}

// Fields returns the scalar JSON image of a document without relations.
func Fields(obj domain.Object) (map[string]any, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", obj.ObjectType(), err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", obj.ObjectType(), err)
	}
	return out, nil
}

// Image computes the deep image: the document's scalar fields plus the
// recursive images of every configured relation.
func (e *Engine) Image(view domain.TransactionView, obj domain.Object) (map[string]any, error) {
	image, err := Fields(obj)
	if err != nil {
		return nil, err
	}
	cfg := e.configs[obj.ObjectType()]
	for _, field := range cfg.IgnoreFields {
		delete(image, field)
	}
	for _, rel := range cfg.Relations {
		value, err := rel.Load(view, obj)
		if err != nil {
			return nil, fmt.Errorf("load relation %s.%s: %w", obj.ObjectType(), rel.Name, err)
		}
		image[rel.Name] = stripIgnored(coerce(value), rel.Ignore)
	}
	return image, nil
}

// coerce converts an arbitrary value into its JSON shape. Values that cannot
// be represented as JSON are coerced to strings.
func coerce(value any) any {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Sprint(value)
	}
	return out
}

func stripIgnored(value any, ignore []string) any {
	if len(ignore) == 0 {
		return value
	}
	switch tv := value.(type) {
	case map[string]any:
		for _, key := range ignore {
			delete(tv, key)
		}
		for k, v := range tv {
			tv[k] = stripIgnored(v, ignore)
		}
		return tv
	case []any:
		for i, item := range tv {
			tv[i] = stripIgnored(item, ignore)
		}
		return tv
	default:
		return value
	}
}

// Diff computes the recursive difference between two images. Scalars produce
// {before, after} pairs; maps nest, omitting unchanged keys; equal-length
// sequences of records diff elementwise; any other sequence change replaces
// the whole list. An empty result means no change.
func Diff(before, after map[string]any) map[string]any {
	out := make(map[string]any)
	for key := range union(before, after) {
		b, hasBefore := before[key]
		a, hasAfter := after[key]
		if !hasBefore {
			b = nil
		}
		if !hasAfter {
			a = nil
		}
		if delta, changed := diffValue(b, a); changed {
			out[key] = delta
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func diffValue(before, after any) (any, bool) {
	bm, bIsMap := before.(map[string]any)
	am, aIsMap := after.(map[string]any)
	if bIsMap && aIsMap {
		nested := Diff(bm, am)
		if nested == nil {
			return nil, false
		}
		return nested, true
	}

	bs, bIsSlice := before.([]any)
	as, aIsSlice := after.([]any)
	if bIsSlice && aIsSlice {
		return diffSlice(bs, as)
	}

	if equalScalar(before, after) {
		return nil, false
	}
	return map[string]any{"before": before, "after": after}, true
}

func diffSlice(before, after []any) (any, bool) {
	if len(before) == len(after) && homogeneousRecords(before) && homogeneousRecords(after) {
		out := make(map[string]any)
		for i := range before {
			if delta, changed := diffValue(before[i], after[i]); changed {
				out[fmt.Sprintf("%d", i)] = delta
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	}
	if equalScalar(before, after) {
		return nil, false
	}
	return map[string]any{"before": before, "after": after}, true
}

// homogeneousRecords reports whether every element is a JSON object.
func homogeneousRecords(items []any) bool {
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func equalScalar(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return string(ra) == string(rb)
}

func union(a, b map[string]any) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// Apply folds a recursive diff into a base image and returns the post-image
// for the covered fields. It is primarily used to verify log-state coherence.
func Apply(base map[string]any, change map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for key, delta := range change {
		out[key] = applyValue(out[key], delta)
	}
	return out
}

func applyValue(base any, delta any) any {
	dm, ok := delta.(map[string]any)
	if !ok {
		return delta
	}
	if after, isPair := pairAfter(dm); isPair {
		return after
	}
	switch bv := base.(type) {
	case map[string]any:
		return Apply(bv, dm)
	case []any:
		out := append([]any(nil), bv...)
		for key, elemDelta := range dm {
			var idx int
			if _, err := fmt.Sscanf(key, "%d", &idx); err != nil || idx < 0 || idx >= len(out) {
				continue
			}
			out[idx] = applyValue(out[idx], elemDelta)
		}
		return out
	default:
		return delta
	}
}

// pairAfter detects a {before, after} leaf.
func pairAfter(m map[string]any) (any, bool) {
	if len(m) != 2 {
		return nil, false
	}
	after, hasAfter := m["after"]
	_, hasBefore := m["before"]
	if hasAfter && hasBefore {
		return after, true
	}
	return nil, false
}
