package schema

import "encoding/json"

// Strategy identifies a `reduce` annotation's reduction strategy
// (spec.md §4.1).
type Strategy string

const (
	StrategyFirstWriteWins Strategy = "firstWriteWins"
	StrategyLastWriteWins  Strategy = "lastWriteWins"
	StrategySum            Strategy = "sum"
	StrategyMinimize       Strategy = "minimize"
	StrategyMaximize       Strategy = "maximize"
	StrategyMerge          Strategy = "merge"
	StrategyAppend         Strategy = "append"
	StrategySet            Strategy = "set"
)

// Reduce is the `reduce` annotation attached to a schema location.
// Its shape loosely mirrors the upstream `json` crate's annotation
// model (original_source/crates/json/src/schema/keywords.rs), reduced
// to the fields this control plane's combiner (go/reduce) interprets.
type Reduce struct {
	Strategy Strategy `json:"strategy"`

	// Key is used by "merge" (for sub-object keys) and "set" (for
	// identifying add/remove/update sub-documents by their own
	// composite key).
	Key []Pointer `json:"key,omitempty"`

	// AssociativeOrder, when set (minimize/maximize), compares via a
	// composite key, matching the upstream "minimize"/"maximize" `key`
	// option; values equal under the key keep the existing value.
	AssociativeOrder []Pointer `json:"associativeOrder,omitempty"`
}

// Schema is a minimal structural model of a JSON-Schema document: just
// enough shape (type, required, properties, items, if/then/else, and
// the reduce annotation) to drive combiner reductions and the
// control plane's own structural checks. It is not a general
// draft-2020-12 validator (see DESIGN.md).
type Schema struct {
	Id         string             `json:"$id,omitempty"`
	Ref        string             `json:"$ref,omitempty"`
	Type       json.RawMessage    `json:"type,omitempty"` // string or []string
	Required   []string           `json:"required,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`

	If   *Schema `json:"if,omitempty"`
	Then *Schema `json:"then,omitempty"`
	Else *Schema `json:"else,omitempty"`

	Reduce *Reduce `json:"reduce,omitempty"`
}

// Types returns the schema's allowed JSON types, whether declared as a
// single string or an array of strings.
func (s *Schema) Types() []string {
	if s == nil || len(s.Type) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(s.Type, &single); err == nil {
		return []string{single}
	}
	var many []string
	_ = json.Unmarshal(s.Type, &many)
	return many
}

// AnnotationAt walks doc alongside the schema and returns the
// effective reduce annotation applicable to the document root,
// resolving `if`/`then`/`else` against doc first (spec.md §4.1
// "conditional if/then/else").
//
// Only root-level (whole right/left-hand document) reduction is
// resolved here; nested per-property reduction is handled recursively
// by go/reduce, which re-invokes AnnotationAt on sub-schemas as it
// descends into object/array structure.
func (s *Schema) AnnotationAt(doc any) *Reduce {
	var effective = s
	for effective != nil && effective.If != nil {
		if matches(effective.If, doc) {
			if effective.Then != nil {
				effective = effective.Then
			} else {
				break
			}
		} else if effective.Else != nil {
			effective = effective.Else
		} else {
			break
		}
	}
	if effective == nil {
		return nil
	}
	return effective.Reduce
}

// matches reports whether doc satisfies the (deliberately partial)
// structural shape of an `if` schema: declared required properties
// are present, and the declared type (if any) matches.
func matches(ifSchema *Schema, doc any) bool {
	for _, req := range ifSchema.Required {
		if _, ok := Extract(doc, Pointer("/"+req)); !ok {
			return false
		}
	}
	if types := ifSchema.Types(); len(types) > 0 {
		var actual = jsonTypeOf(doc)
		var found bool
		for _, t := range types {
			if t == actual {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func jsonTypeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64, uint64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
