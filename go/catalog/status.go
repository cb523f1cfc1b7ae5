package catalog

// StatusType is the wire-visible tag of a publication's terminal or
// in-flight status (spec.md §6.4).
type StatusType string

const (
	StatusQueued                 StatusType = "queued"
	StatusBuildFailed            StatusType = "buildFailed"
	StatusTestFailed             StatusType = "testFailed"
	StatusPublishFailed          StatusType = "publishFailed"
	StatusSuccess                StatusType = "success"
	StatusEmptyDraft             StatusType = "emptyDraft"
	StatusExpectPubIdMismatch    StatusType = "expectPubIdMismatch"
	StatusBuildIdLockFailure     StatusType = "buildIdLockFailure"
	StatusDeprecatedBackground   StatusType = "deprecatedBackground"
)

// ExpectPubIdFailure describes one spec whose caller-asserted
// expect_pub_id didn't match the currently stored last_pub_id
// (spec.md §4.4 step 4, §8 scenario 2).
type ExpectPubIdFailure struct {
	CatalogName Name `json:"catalogName"`
	Expected    Id   `json:"expected"`
	Actual      Id   `json:"actual"`
}

// BuildIdLockFailure describes one spec whose last_build_id advanced
// out from under a publication attempt (spec.md §4.4 step 5, §8
// scenario 1).
type BuildIdLockFailure struct {
	CatalogName Name `json:"catalogName"`
	Expected    Id   `json:"expected"`
	Actual      Id   `json:"actual"`
}

// Status is a tagged union over the publication status taxonomy of
// spec.md §6.4, persisted and transmitted as JSON with a "type" field,
// matching the original control plane's `job_status` column
// (original_source crates/agent-sql/src/publications.rs `resolve`).
type Status struct {
	Type                 StatusType            `json:"type"`
	IncompatibleCollections []IncompatibleCollection `json:"incompatibleCollections,omitempty"`
	EvolutionId          *Id                   `json:"evolutionId,omitempty"`
	Failures             []ExpectPubIdFailure  `json:"expectPubIdFailures,omitempty"`
	LockFailures         []BuildIdLockFailure  `json:"buildIdLockFailures,omitempty"`
}

// IncompatibleCollection names a collection whose Validate RPC
// returned an Unsatisfiable constraint during this publication attempt,
// together with the bindings that must be resolved (spec.md §4.3 phase
// 4, §4.4 retry policy).
type IncompatibleCollection struct {
	CollectionName    Name     `json:"collection"`
	AffectedMaterializations []Name `json:"affectedMaterializations,omitempty"`
}

// IsSuccess reports whether the status is a terminal success.
func (s Status) IsSuccess() bool { return s.Type == StatusSuccess }

// IsRetryable reports whether the publication engine's default retry
// policy (spec.md §4.4 "Retry policy") should re-run the build for
// this status.
func (s Status) IsRetryable() bool {
	return s.Type == StatusBuildIdLockFailure
}

// HasIncompatibleCollections reports whether this build failure needs
// an evolution action before it can be retried (spec.md §4.5
// "apply ... on_incompatible_schema_change").
func (s Status) HasIncompatibleCollections() bool {
	return s.Type == StatusBuildFailed && len(s.IncompatibleCollections) > 0
}
