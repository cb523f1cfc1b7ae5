package reduce

import (
	"fmt"

	"github.com/estuary/flow/go/schema"
)

// reduceField applies the reduce annotation at `at` (a sub-schema of
// the document's overall schema) to combine an existing left-hand
// value with an incoming right-hand value, returning the merged
// result. It is invoked at the document root by Combiner.Combine and
// Combiner.ReduceLeft,
// and recurses into object/array members so that nested annotations
// (spec.md §4.1: sum, minimize, maximize, merge, append,
// lastWriteWins, firstWriteWins, set, conditional if/then/else) apply
// independently at every location, matching the upstream `json` crate
// (original_source/crates/json/src/schema/keywords.rs) keyword-dispatch
// shape.
func reduceField(at *schema.Schema, lhs, rhs any, lhsExists bool) (any, error) {
	if !lhsExists {
		return rhs, nil
	}

	var ann *schema.Reduce
	if at != nil {
		ann = at.AnnotationAt(rhs)
	}

	if ann == nil {
		return reduceDefault(at, lhs, rhs)
	}

	switch ann.Strategy {
	case schema.StrategyFirstWriteWins:
		return lhs, nil
	case schema.StrategyLastWriteWins:
		return rhs, nil
	case schema.StrategySum:
		return reduceSum(lhs, rhs)
	case schema.StrategyMinimize:
		return reduceMinMax(ann, lhs, rhs, true)
	case schema.StrategyMaximize:
		return reduceMinMax(ann, lhs, rhs, false)
	case schema.StrategyMerge:
		return reduceMerge(at, ann, lhs, rhs)
	case schema.StrategyAppend:
		return reduceAppend(lhs, rhs)
	case schema.StrategySet:
		return reduceSet(ann, lhs, rhs)
	default:
		return nil, fmt.Errorf("unknown reduce strategy %q", ann.Strategy)
	}
}

// reduceDefault is applied at locations with no explicit reduce
// annotation: objects are deep-merged property-by-property (each
// property may carry its own annotation further down); everything
// else is replaced outright (an implicit lastWriteWins), matching the
// common convention that "reduce" is opt-in per-location.
func reduceDefault(at *schema.Schema, lhs, rhs any) (any, error) {
	lhsObj, lhsOk := lhs.(map[string]any)
	rhsObj, rhsOk := rhs.(map[string]any)
	if !lhsOk || !rhsOk {
		return rhs, nil
	}

	var out = make(map[string]any, len(lhsObj)+len(rhsObj))
	for k, v := range lhsObj {
		out[k] = v
	}
	for k, rv := range rhsObj {
		var propSchema *schema.Schema
		if at != nil {
			propSchema = at.Properties[k]
		}
		lv, existed := lhsObj[k]
		merged, err := reduceField(propSchema, lv, rv, existed)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func reduceSum(lhs, rhs any) (any, error) {
	lv, ok1 := asNumber(lhs)
	rv, ok2 := asNumber(rhs)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("sum strategy requires numeric operands, got %T and %T", lhs, rhs)
	}
	return lv + rv, nil
}

func reduceMinMax(ann *schema.Reduce, lhs, rhs any, wantMin bool) (any, error) {
	var c int
	if len(ann.AssociativeOrder) > 0 {
		c = schema.Compare(ann.AssociativeOrder, lhs, rhs)
	} else {
		lv, lok := asNumber(lhs)
		rv, rok := asNumber(rhs)
		if lok && rok {
			switch {
			case lv < rv:
				c = -1
			case lv > rv:
				c = 1
			}
		} else {
			// Neither numeric nor keyed: no ordering is defined, so
			// c stays 0 and the existing (left-hand) value is kept
			// by either strategy via the wantMin check below.
			c = 0
		}
	}
	if (wantMin && c <= 0) || (!wantMin && c >= 0) {
		return lhs, nil
	}
	return rhs, nil
}

func reduceAppend(lhs, rhs any) (any, error) {
	lArr, lok := lhs.([]any)
	rArr, rok := rhs.([]any)
	if !lok || !rok {
		return nil, fmt.Errorf("append strategy requires array operands, got %T and %T", lhs, rhs)
	}
	var out = make([]any, 0, len(lArr)+len(rArr))
	out = append(out, lArr...)
	out = append(out, rArr...)
	return out, nil
}

// reduceMerge deep-merges two values. For objects, this is a
// recursive property union (same shape as reduceDefault, but
// explicit). For arrays, the two operands are assumed pre-sorted
// by ann.Key and are merged maintaining sort order, with equal-keyed
// elements themselves recursively merged. With ann.Key unset every
// pair of elements compares equal, so arrays merge index by index.
func reduceMerge(at *schema.Schema, ann *schema.Reduce, lhs, rhs any) (any, error) {
	if lhsObj, ok := lhs.(map[string]any); ok {
		rhsObj, ok := rhs.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("merge strategy requires matching object operands")
		}
		return reduceDefault(at, lhsObj, rhsObj)
	}

	lArr, lok := lhs.([]any)
	rArr, rok := rhs.([]any)
	if !lok || !rok {
		return nil, fmt.Errorf("merge strategy requires array or object operands, got %T and %T", lhs, rhs)
	}
	return mergeSortedArrays(ann.Key, lArr, rArr, true)
}

// reduceSet applies the "set" strategy: lhs and rhs are each shaped as
// {"add": [...], "remove": [...]}, with "add" entries keyed (and
// required sorted/deduplicated) by ann.Key. The merged set's "add"
// member is the key-wise union (rhs wins on conflicting keys), minus
// anything present in either side's "remove" member.
func reduceSet(ann *schema.Reduce, lhs, rhs any) (any, error) {
	lhsObj, lok := lhs.(map[string]any)
	rhsObj, rok := rhs.(map[string]any)
	if !lok || !rok {
		return nil, fmt.Errorf("set strategy requires object operands shaped {add, remove}, got %T and %T", lhs, rhs)
	}

	var lAdd = asArray(lhsObj["add"])
	var rAdd = asArray(rhsObj["add"])
	var lDel = asArray(lhsObj["remove"])
	var rDel = asArray(rhsObj["remove"])

	if err := requireSortedDeduped(ann.Key, lAdd); err != nil {
		return nil, fmt.Errorf("left-hand %w", err)
	}
	if err := requireSortedDeduped(ann.Key, rAdd); err != nil {
		return nil, fmt.Errorf("right-hand %w", err)
	}

	merged, err := mergeSortedArrays(ann.Key, lAdd, rAdd, true)
	if err != nil {
		return nil, err
	}
	var removed = make(map[string]struct{})
	for _, d := range append(append([]any{}, lDel...), rDel...) {
		removed[fmt.Sprint(keyOf(ann.Key, d))] = struct{}{}
	}
	var kept []any
	for _, item := range merged.([]any) {
		if _, gone := removed[fmt.Sprint(keyOf(ann.Key, item))]; !gone {
			kept = append(kept, item)
		}
	}

	return map[string]any{"add": kept, "remove": append(lDel, rDel...)}, nil
}

func asArray(v any) []any {
	arr, _ := v.([]any)
	return arr
}

func keyOf(key []schema.Pointer, doc any) []any {
	var out = make([]any, len(key))
	for i, p := range key {
		out[i], _ = schema.Extract(doc, p)
	}
	return out
}

func requireSortedDeduped(key []schema.Pointer, arr []any) error {
	for i := 1; i < len(arr); i++ {
		if c := schema.Compare(key, arr[i-1], arr[i]); c >= 0 {
			return fmt.Errorf("set member %d is not strictly greater than member %d under its own key (structural error)", i, i-1)
		}
	}
	return nil
}

// mergeSortedArrays merges two key-sorted arrays, recursively
// reducing elements sharing a key when recurseOnEqual is set.
func mergeSortedArrays(key []schema.Pointer, lhs, rhs []any, recurseOnEqual bool) (any, error) {
	var out = make([]any, 0, len(lhs)+len(rhs))
	var i, j = 0, 0
	for i < len(lhs) && j < len(rhs) {
		var c = schema.Compare(key, lhs[i], rhs[j])
		switch {
		case c < 0:
			out = append(out, lhs[i])
			i++
		case c > 0:
			out = append(out, rhs[j])
			j++
		default:
			if recurseOnEqual {
				merged, err := reduceField(nil, lhs[i], rhs[j], true)
				if err != nil {
					return nil, err
				}
				out = append(out, merged)
			} else {
				out = append(out, rhs[j])
			}
			i++
			j++
		}
	}
	out = append(out, lhs[i:]...)
	out = append(out, rhs[j:]...)
	return out, nil
}
