package validate

import (
	"encoding/json"
	"fmt"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/reduce"
	"github.com/estuary/flow/go/schema"
)

// runTests implements phase 6: for each test's ingest/verify steps, a
// scratch combiner per referenced collection replays the ingested
// documents, drains the fully-reduced result, and compares the number
// of drained documents with the number of the verify step's expected
// documents; document contents are not compared. A failure here is
// non-fatal at the
// build level (spec.md §4.3 phase 6) and is surfaced on the
// BuiltTest, not returned as a pipeline error.
func runTests(draft []catalog.DraftSpec, collections []BuiltCollection, idx *schema.Index) []BuiltTest {
	var byName = make(map[catalog.Name]*BuiltCollection, len(collections))
	for i := range collections {
		byName[collections[i].Name] = &collections[i]
	}

	var out []BuiltTest
	for _, d := range draft {
		if d.IsDeletion() || d.SpecType != catalog.Test {
			continue
		}
		var w testWire
		if err := json.Unmarshal(d.Spec, &w); err != nil {
			out = append(out, BuiltTest{Name: d.CatalogName, Passed: false, Detail: fmt.Sprintf("parsing test spec: %v", err)})
			continue
		}

		var combiners = make(map[catalog.Name]*reduce.Combiner)
		var passed = true
		var detail string

		getCombiner := func(name catalog.Name) (*reduce.Combiner, error) {
			if c, ok := combiners[name]; ok {
				return c, nil
			}
			var coll = byName[name]
			if coll == nil {
				return nil, fmt.Errorf("collection %s is not in this build", name)
			}
			c, err := reduce.New(coll.Key, coll.WriteSchemaURL, idx)
			if err != nil {
				return nil, err
			}
			combiners[name] = c
			return c, nil
		}

	steps:
		for i, step := range w.Steps {
			switch {
			case step.Ingest != nil:
				c, err := getCombiner(step.Ingest.Collection)
				if err != nil {
					passed, detail = false, fmt.Sprintf("step[%d]: %v", i, err)
					break steps
				}
				for _, doc := range step.Ingest.Documents {
					if err := c.Combine(doc); err != nil {
						passed, detail = false, fmt.Sprintf("step[%d]: ingest: %v", i, err)
						break steps
					}
				}
			case step.Verify != nil:
				c, err := getCombiner(step.Verify.Collection)
				if err != nil {
					passed, detail = false, fmt.Sprintf("step[%d]: %v", i, err)
					break steps
				}
				var actual []json.RawMessage
				if err := c.SpillTo(func(doc json.RawMessage) error {
					actual = append(actual, doc)
					return nil
				}); err != nil {
					passed, detail = false, fmt.Sprintf("step[%d]: verify: %v", i, err)
					break steps
				}
				if len(actual) != len(step.Verify.Documents) {
					passed, detail = false, fmt.Sprintf("step[%d]: verify: expected %d document(s), got %d",
						i, len(step.Verify.Documents), len(actual))
					break steps
				}
			}
		}

		out = append(out, BuiltTest{Name: d.CatalogName, Passed: passed, Detail: detail})
	}
	return out
}
