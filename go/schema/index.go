package schema

import (
	"encoding/json"
	"fmt"
)

// Index bundles one or more schema documents by their $id, resolving
// $ref by simple $id lookup (spec.md §4.3 phase 2 "Schema indexing").
// It has no notion of remote fetches; every referenced $id must have
// been added via Add before Resolve is called, matching the "external
// bundler" the core is specified to consume (spec.md §1 Non-goals).
type Index struct {
	byId map[string]*Schema
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{byId: make(map[string]*Schema)}
}

// Add parses and indexes a schema document under its own $id (or under
// url if the document has no $id of its own).
func (idx *Index) Add(url string, doc json.RawMessage) (*Schema, error) {
	var s = new(Schema)
	if err := json.Unmarshal(doc, s); err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", url, err)
	}
	if s.Id == "" {
		s.Id = url
	}
	idx.byId[s.Id] = s
	return s, nil
}

// Resolve returns the schema previously indexed under url, following
// $ref indirection through every level.
func (idx *Index) Resolve(url string) (*Schema, bool) {
	s, ok := idx.byId[url]
	if !ok {
		return nil, false
	}
	if s.Ref != "" {
		return idx.Resolve(s.Ref)
	}
	return s, true
}

// Validate performs the control plane's structural checks of doc
// against the schema at url: declared `required` properties are
// present, and declared `type`s (including nested object/array
// members) match. It intentionally does not implement the full
// draft-2020-12 keyword set — see DESIGN.md for why no third-party
// validator was wired instead — since the core's job is reduction and
// optimistic-lock bookkeeping, not acting as a general schema
// conformance suite.
func (idx *Index) Validate(url string, raw json.RawMessage) error {
	s, ok := idx.Resolve(url)
	if !ok {
		return fmt.Errorf("schema %s is not indexed", url)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("document is not valid JSON: %w", err)
	}
	return idx.validate(s, doc, "")
}

func (idx *Index) validate(s *Schema, doc any, at string) error {
	if s == nil {
		return nil
	}
	if s.Ref != "" {
		ref, ok := idx.Resolve(s.Ref)
		if !ok {
			return fmt.Errorf("%s: unresolved $ref %s", at, s.Ref)
		}
		return idx.validate(ref, doc, at)
	}

	if types := s.Types(); len(types) > 0 {
		var actual = jsonTypeOf(doc)
		var ok bool
		for _, t := range types {
			if t == actual || (t == "number" && actual == "number") {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%s: expected type %v but document is %s", at, types, actual)
		}
	}

	if obj, isObj := doc.(map[string]any); isObj {
		for _, req := range s.Required {
			if _, ok := obj[req]; !ok {
				return fmt.Errorf("%s: missing required property %q", at, req)
			}
		}
		for k, v := range obj {
			if propSchema, ok := s.Properties[k]; ok {
				if err := idx.validate(propSchema, v, at+"/"+k); err != nil {
					return err
				}
			}
		}
	}

	if arr, isArr := doc.([]any); isArr && s.Items != nil {
		for i, v := range arr {
			if err := idx.validate(s.Items, v, fmt.Sprintf("%s/%d", at, i)); err != nil {
				return err
			}
		}
	}

	return nil
}
