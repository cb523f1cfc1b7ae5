// Package schema provides the JSON-Schema bundling, indexing, and
// reduce-annotation model shared by the combiner (go/reduce) and the
// validation pipeline (go/validate). It implements only the subset of
// JSON-Schema structural validation the control plane itself depends
// on, plus the Estuary-specific `reduce` keyword dialect; it is not a
// general-purpose schema validator (see DESIGN.md).
package schema

import (
	"strconv"
	"strings"
)

// Pointer is an RFC 6901 JSON Pointer, e.g. "/a/b/0".
type Pointer string

// Tokens splits the pointer into its unescaped reference tokens.
func (p Pointer) Tokens() []string {
	var s = string(p)
	if s == "" {
		return nil
	}
	s = strings.TrimPrefix(s, "/")
	var parts = strings.Split(s, "/")
	for i, t := range parts {
		t = strings.ReplaceAll(t, "~1", "/")
		t = strings.ReplaceAll(t, "~0", "~")
		parts[i] = t
	}
	return parts
}

// Extract resolves the pointer against doc (a tree of
// map[string]any / []any / scalars, as produced by encoding/json
// unmarshaled into `any`). The second return is false if the pointer
// doesn't resolve (missing key or out-of-range index).
func Extract(doc any, p Pointer) (any, bool) {
	var cur = doc
	for _, tok := range p.Tokens() {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[tok]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Compare orders two documents by their values at the given composite
// key pointers, each key field compared in its natural JSON ordering
// (null < false < true < number < string), matching the combiner's
// key-ordering contract (spec.md §4.1 "keys are extracted and totally
// ordered").
func Compare(key []Pointer, a, b any) int {
	for _, p := range key {
		av, _ := Extract(a, p)
		bv, _ := Extract(b, p)
		if c := compareValue(av, bv); c != 0 {
			return c
		}
	}
	return 0
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, int, int64, uint64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}

func compareValue(a, b any) int {
	if ra, rb := typeRank(a), typeRank(b); ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		} else if !av {
			return -1
		}
		return 1
	case string:
		return strings.Compare(av, b.(string))
	default:
		var af, bf = asFloat(a), asFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
}
