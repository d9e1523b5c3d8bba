// Package fields selects which form fields get persisted and provides the live
// form abstraction the engine reads from and restores into.
package fields

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter picks the persisted subset of a form. When Include is non-empty only
// matching fields are kept; otherwise every field not matching Exclude is kept.
// A pattern matches a field with exactly its name, or as a glob otherwise, so
// bracketed names like address[street] still match themselves.
type Filter struct {
	include []pattern
	exclude []pattern
}

type pattern struct {
	raw string
	g   glob.Glob
}

func (p pattern) match(name string) bool {
	return name == p.raw || p.g.Match(name)
}

// NewFilter compiles include and exclude patterns.
func NewFilter(include, exclude []string) (*Filter, error) {
	f := &Filter{}
	for _, raw := range include {
		g, err := glob.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern '%s': %w", raw, err)
		}
		f.include = append(f.include, pattern{raw: raw, g: g})
	}
	for _, raw := range exclude {
		g, err := glob.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern '%s': %w", raw, err)
		}
		f.exclude = append(f.exclude, pattern{raw: raw, g: g})
	}
	return f, nil
}

// MustFilter is NewFilter for patterns known to be valid.
func MustFilter(include, exclude []string) *Filter {
	f, err := NewFilter(include, exclude)
	if err != nil {
		panic(err)
	}
	return f
}

func matchAny(patterns []pattern, name string) bool {
	for _, p := range patterns {
		if p.match(name) {
			return true
		}
	}
	return false
}

// Keeps reports whether field name survives the filter.
func (f *Filter) Keeps(name string) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 {
		return matchAny(f.include, name)
	}
	return !matchAny(f.exclude, name)
}

// Apply returns a deep copy of the kept fields. The source is never modified.
func (f *Filter) Apply(form map[string]any) map[string]any {
	out := make(map[string]any, len(form))
	for name, value := range form {
		if f.Keeps(name) {
			out[name] = Clone(value)
		}
	}
	return out
}

// Clone deep-copies the container shapes produced by JSON decoding and common
// Go literals. Other values are returned as is.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = Clone(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Clone(inner)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, inner := range val {
			out[k] = inner
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []int:
		return append([]int(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	default:
		return v
	}
}
