package nervusdb

import (
	"github.com/nervusdb/nervusdb/internal/query"
)

// Criteria fixes an optional subset of a triple's three string dimensions.
// A nil field is unconstrained.
type Criteria struct {
	S, P, O *string
}

// ResolvedTriple is a fact expressed in its resolved string form, the shape
// every public operation accepts and returns.
type ResolvedTriple struct {
	S, P, O string
}

// FactProperties optionally attaches a node and/or edge property document
// to an AddFact call.
type FactProperties struct {
	Node interface{}
	Edge interface{}
}

// Direction picks which endpoint of a triple a traversal pivots on.
type Direction = query.Direction

const (
	Forward = query.Forward
	Reverse = query.Reverse
)

// Uniqueness controls how FollowPath deduplicates nodes/edges across
// layers of its breadth-first search.
type Uniqueness = query.Uniqueness

const (
	UniquenessNone = query.UniquenessNone
	UniquenessNode = query.UniquenessNode
	UniquenessEdge = query.UniquenessEdge
)

// PathOptions configures FollowPath.
type PathOptions struct {
	MinDepth, MaxDepth int
	Direction          Direction
	Uniqueness         Uniqueness
}
