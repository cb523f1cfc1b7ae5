package catalog

import "encoding/json"

// SpecType identifies which of the four catalog task kinds a spec is
// (spec.md §3.1).
type SpecType string

const (
	Capture         SpecType = "capture"
	Collection      SpecType = "collection"
	Materialization SpecType = "materialization"
	Test            SpecType = "test"
)

// FlowType classifies a live_spec_flows edge by the role the target
// plays: captures write collections, materializations read
// collections, derivations do both (spec.md §3.1).
type FlowType string

const (
	FlowCapture         FlowType = "capture"
	FlowCollection      FlowType = "collection"
	FlowMaterialization FlowType = "materialization"
	FlowTest            FlowType = "test"
)

// DraftSpec is a proposed mutation of one catalog spec within a draft
// (spec.md §3.1). SpecType == "" && Spec == nil means "delete".
type DraftSpec struct {
	DraftId     Id
	CatalogName Name
	SpecType    SpecType // zero value alongside nil Spec means deletion
	Spec        json.RawMessage
	// ExpectPubId encodes the caller's optimistic concurrency
	// expectation. nil means "don't care"; a pointer to ZeroId means
	// "expect creation"; any other pointed-to value means "expect
	// exactly this last_pub_id".
	ExpectPubId *Id
}

// IsDeletion reports whether this draft spec represents a deletion.
func (d *DraftSpec) IsDeletion() bool {
	return d.SpecType == "" && d.Spec == nil
}

// LiveSpec is a committed catalog spec, possibly soft-deleted
// (spec.md §3.1).
type LiveSpec struct {
	Id              Id
	CatalogName     Name
	SpecType        SpecType
	Spec            json.RawMessage // nil when soft-deleted
	LastPubId       Id
	LastBuildId     Id
	ReadsFrom       []Name
	WritesTo        []Name
	ConnectorImage  string
	DataPlaneId     Id
}

// IsSoftDeleted reports whether the spec has been published as a
// deletion but is still reachable via a dataflow edge.
func (l *LiveSpec) IsSoftDeleted() bool { return l.Spec == nil }

// FlowEdge is a materialized live_spec_flows row (spec.md §3.1,
// invariant 2: both endpoints must be live in the same commit).
type FlowEdge struct {
	SourceId Id
	TargetId Id
	Flow     FlowType
}

// Publication is a row of the publications table (spec.md §3.1).
type Publication struct {
	PubId     Id
	DraftId   Id
	Detail    string
	DryRun    bool
	Status    Status
	LogsToken string // UUID, see go/ops
	UserId    string // UUID
}
