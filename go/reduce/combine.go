// Package reduce implements the document combiner (spec.md §4.1): a
// resumable, schema-annotation-driven reducer over JSON documents
// sharing a composite key, grounded on the semantics of
// original_source/crates/doc/src/combine/memtable.rs's MemTable but
// re-expressed over a plain sorted Go slice rather than the teacher's
// bump-allocator-backed BTreeSet, since Go has no idiomatic equivalent
// of that allocator and the control plane's combine volumes here are
// modest compared to the data-plane runtime this was extracted from.
package reduce

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/estuary/flow/go/schema"
)

type entry struct {
	doc          any
	fullyReduced bool
	dirty        bool
}

// Combiner accumulates and reduces documents sharing a composite key
// under a single schema's `reduce` annotations. It is not safe for
// concurrent use; callers that fan out combines across goroutines
// should shard by key, as the teacher's own consumer shard model does.
type Combiner struct {
	key       []schema.Pointer
	schemaURL string
	index     *schema.Index

	entries []entry
	cursor  int
}

// New builds a Combiner keyed by key, validating documents against the
// schema indexed under schemaURL. An empty key is rejected, mirroring
// the upstream's requirement that every collection declare at least
// one key pointer.
func New(key []schema.Pointer, schemaURL string, index *schema.Index) (*Combiner, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("combiner key must have at least one pointer")
	}
	return &Combiner{key: key, schemaURL: schemaURL, index: index}, nil
}

func (c *Combiner) decode(raw json.RawMessage) (any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("document is not valid JSON: %w", err)
	}
	return doc, nil
}

func (c *Combiner) rootSchema() *schema.Schema {
	s, _ := c.index.Resolve(c.schemaURL)
	return s
}

// find returns the index of the entry whose key matches doc's key, and
// whether it was found, using binary search over the key-ordered
// entries slice.
func (c *Combiner) find(doc any) (int, bool) {
	var i = sort.Search(len(c.entries), func(i int) bool {
		return schema.Compare(c.key, c.entries[i].doc, doc) >= 0
	})
	if i < len(c.entries) && schema.Compare(c.key, c.entries[i].doc, doc) == 0 {
		return i, true
	}
	return i, false
}

// Combine reduces an incoming (right-hand) document into the
// accumulator: documents sharing a key are reduced together via their
// schema's reduce annotations, with an absent left-hand side treated
// as the identity operand (spec.md §4.1 "Combine: fold an incoming
// document into the accumulator"). The right-hand document is
// validated against the combiner's schema before reduction
// (PreReduceValidation).
func (c *Combiner) Combine(raw json.RawMessage) error {
	if err := c.index.Validate(c.schemaURL, raw); err != nil {
		return preReduceErr(err)
	}
	doc, err := c.decode(raw)
	if err != nil {
		return preReduceErr(err)
	}

	i, found := c.find(doc)
	if !found {
		c.entries = append(c.entries, entry{})
		copy(c.entries[i+1:], c.entries[i:])
		c.entries[i] = entry{doc: doc, dirty: true}
		if i < c.cursor {
			c.cursor++
		}
		return nil
	}

	merged, err := reduceField(c.rootSchema(), c.entries[i].doc, doc, true)
	if err != nil {
		return postReduceErr(err)
	}
	c.entries[i].doc = merged
	c.entries[i].dirty = true
	return nil
}

// ReduceLeft folds a right-hand document directly into an existing
// left-hand accumulator entry, as the upstream's `reduce_left` does
// when replaying a collection's prior register state. Unlike Combine,
// it marks the target entry fully reduced, and it is an error
// (AlreadyFullyReduced) to ReduceLeft into an entry that an earlier
// ReduceLeft already marked; neither Combine nor DrainWhile clears
// the mark.
func (c *Combiner) ReduceLeft(raw json.RawMessage) error {
	if err := c.index.Validate(c.schemaURL, raw); err != nil {
		return preReduceErr(err)
	}
	doc, err := c.decode(raw)
	if err != nil {
		return preReduceErr(err)
	}

	i, found := c.find(doc)
	if !found {
		c.entries = append(c.entries, entry{})
		copy(c.entries[i+1:], c.entries[i:])
		c.entries[i] = entry{doc: doc, fullyReduced: true, dirty: true}
		if i < c.cursor {
			c.cursor++
		}
		return nil
	}
	if c.entries[i].fullyReduced {
		return alreadyFullyReducedErr(keyOf(c.key, doc))
	}

	merged, err := reduceField(c.rootSchema(), c.entries[i].doc, doc, true)
	if err != nil {
		return postReduceErr(err)
	}
	c.entries[i].doc = merged
	c.entries[i].fullyReduced = true
	c.entries[i].dirty = true
	return nil
}

// DrainWhile iterates accumulated entries in ascending key order
// starting from the last drain position, invoking cb with each
// document. Drained entries are re-validated against the combiner's
// schema before being yielded (PostReduceValidation) if they were
// touched since the last drain. Iteration stops, without consuming the
// current entry, the first time cb returns false — allowing callers to
// pause draining when a downstream sink applies backpressure.
func (c *Combiner) DrainWhile(cb func(doc json.RawMessage) (bool, error)) error {
	for c.cursor < len(c.entries) {
		var e = &c.entries[c.cursor]
		if e.dirty {
			if err := func() error {
				raw, err := json.Marshal(e.doc)
				if err != nil {
					return err
				}
				return c.index.Validate(c.schemaURL, raw)
			}(); err != nil {
				return postReduceErr(err)
			}
			e.dirty = false
		}

		raw, err := json.Marshal(e.doc)
		if err != nil {
			return postReduceErr(err)
		}
		more, err := cb(raw)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		c.cursor++
	}
	return nil
}

// SpillTo marshals all accumulated entries, in key order, passing each
// one to w, and resets the combiner to empty. It
// models the upstream's ability to spill an in-memory combiner to
// durable storage under memory pressure (spec.md §4.1 "may spill to
// disk").
func (c *Combiner) SpillTo(w func(doc json.RawMessage) error) error {
	for _, e := range c.entries {
		raw, err := json.Marshal(e.doc)
		if err != nil {
			return err
		}
		if err := w(raw); err != nil {
			return err
		}
	}
	c.entries = nil
	c.cursor = 0
	return nil
}

// Len reports the number of distinct keys currently accumulated.
func (c *Combiner) Len() int { return len(c.entries) }
