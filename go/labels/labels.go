package labels

// JournalSpec labels referenced when the control plane projects a
// collection's declared partition fields into a physical journal
// name suffix (see EncodePartitionValue).
const (
	// Collection is the name of the Flow collection for which this journal
	// holds documents.
	Collection = "estuary.dev/collection"
	// FieldPrefix prefixes the label name of an individual logical
	// partition field, e.g. FieldPrefix+"region".
	FieldPrefix = "estuary.dev/field/"
)

// Authorization-kernel label names (see go/authz). These travel inside a
// pb.LabelSelector's Include/Exclude label sets.
const (
	// Name is the label under which a journal name or name-prefix selector
	// is carried in an authorization request's claims.
	Name = "name"
	// MatchNothing is injected into a black-hole token's Include selector
	// so that it authorizes the request's shape but matches no journals.
	MatchNothing = "estuary.dev/match-nothing"
)
