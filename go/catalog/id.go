package catalog

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Id is an opaque 64-bit identifier, generated so that identifiers are
// monotonic in wall-clock order. It's used for both publication ids and
// build ids (spec.md §3.1). The zero value means "absent" — for a
// LiveSpec it means the spec doesn't yet exist; for a draft's
// expect_pub_id it means "expect creation".
type Id uint64

// ZeroId is the absent/creation sentinel.
const ZeroId Id = 0

// IsZero reports whether this is the all-zero sentinel value.
func (id Id) IsZero() bool { return id == ZeroId }

// String renders the Id as lowercase, fixed-width hex, matching the
// wire encoding used throughout publication status payloads
// (e.g. "0102030405060708" in spec.md §8 scenario 2).
func (id Id) String() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return hex.EncodeToString(b[:])
}

// ParseId parses the hex encoding produced by Id.String.
func ParseId(s string) (Id, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 8 {
		return 0, fmt.Errorf("malformed id %q", s)
	}
	return Id(binary.BigEndian.Uint64(b)), nil
}

// Generator mints Ids that are strictly increasing and monotonic in
// wall-clock order even under concurrent use, combining a millisecond
// timestamp with a per-millisecond sequence counter. It has no
// grounding in the teacher's Go tree (the upstream generator is a
// Postgres sequence function, out of scope per §6.1); this is a
// minimal snowflake-style stand-in sufficient to satisfy invariant 1
// of spec.md §3.2 (last_build_id strictly increases).
type Generator struct {
	mu      sync.Mutex
	lastMs  int64
	counter uint16
}

// NewGenerator returns a ready-to-use Generator.
func NewGenerator() *Generator { return &Generator{} }

// Next returns a new Id, strictly greater than every Id previously
// returned by this Generator.
func (g *Generator) Next() Id {
	g.mu.Lock()
	defer g.mu.Unlock()

	var nowMs = time.Now().UnixMilli()
	if nowMs <= g.lastMs {
		nowMs = g.lastMs
		g.counter++
		if g.counter == 0 {
			// Exhausted this millisecond's sequence space; force the clock forward.
			nowMs++
			g.counter = 0
		}
	} else {
		g.counter = 0
	}
	g.lastMs = nowMs

	return Id(uint64(nowMs)<<16 | uint64(g.counter))
}
