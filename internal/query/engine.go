// Package query implements the criteria-to-index-order selection, staged
// plus paged iteration, and graph-traversal operations (BFS path-finding,
// weighted shortest path) described in spec §4.6.
package query

import (
	"go.uber.org/zap"

	"github.com/nervusdb/nervusdb/internal/paged"
	"github.com/nervusdb/nervusdb/internal/propstore"
	"github.com/nervusdb/nervusdb/internal/triple"
)

// Engine answers criteria queries and graph traversals over the union of
// the in-memory staging index and the on-disk paged index.
type Engine struct {
	staging   *triple.StagingIndex
	tombstone func(triple.Triple) bool // Store.Removed: a deletion not yet folded into the manifest by flush
	pages     *paged.Index
	props     *propstore.Store
	log       *zap.Logger
}

// New builds an Engine over the given staging index, staged-tombstone
// predicate (typically Store.Removed), paged index, and property store
// (used by weighted shortest path to read edge weights).
func New(staging *triple.StagingIndex, tombstone func(triple.Triple) bool, pages *paged.Index, props *propstore.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{staging: staging, tombstone: tombstone, pages: pages, props: props, log: log}
}

// Query selects an index order per triple.SelectOrder, merges the staged
// iteration with the paged iteration at m's epoch, filters tombstones
// (both the in-memory staged set and m's manifest tombstones), and
// deduplicates by (s,p,o). When pinned is true, the in-memory staging
// delta and the live tombstone predicate are both skipped: the result
// reflects exactly what m's epoch saw, ignoring any AddFact/DeleteFact
// that happened after the pin and before the next Flush (spec §4.6,
// "every query executed under a pin ignores the current in-memory
// staging delta added after the pin").
func (e *Engine) Query(m *paged.Manifest, c triple.Criteria, pinned bool) ([]triple.Triple, error) {
	order := triple.SelectOrder(c)
	primary, secondary := order.Bounds(c)

	seen := make(map[string]bool)
	var out []triple.Triple

	emit := func(t triple.Triple) {
		if !c.Matches(t) {
			return
		}
		key := t.Key()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, t)
	}

	if !pinned {
		// StagingIndex mirrors only currently-live staged triples
		// (StagingIndex.Remove, called alongside Store.Remove, evicts the
		// entry rather than marking it), so no tombstone check is needed
		// here.
		e.staging.Iterate(order, primary, secondary, func(t triple.Triple) bool {
			emit(t)
			return true
		})
	}

	var primaryVal uint64
	if primary != nil {
		primaryVal = uint64(*primary)
	}
	var refs []paged.PageRef
	if primary != nil {
		refs = m.PagesFor(order, primaryVal)
	} else {
		refs = m.Lookups[order.String()]
	}

	for _, ref := range refs {
		live, err := e.pages.ReadLiveTriples(order, ref, m)
		if err != nil {
			return nil, err
		}
		for _, t := range live {
			if secondary != nil {
				_, s, _ := order.Dims(t)
				if s != *secondary {
					continue
				}
			}
			if !pinned && e.tombstone != nil && e.tombstone(t) {
				continue // deleted since the last flush, not yet in the manifest's tombstone set
			}
			emit(t)
		}
	}
	return out, nil
}

// Direction picks which endpoint of a triple a traversal pivots on.
type Direction uint8

const (
	Forward Direction = iota // query {subject=n, predicate}; next frontier is the object
	Reverse                  // query {object=n, predicate}; next frontier is the subject
)

// Traverse expands frontier by one hop along predicate in direction dir,
// returning the matched facts and the next frontier (deduplicated).
func (e *Engine) Traverse(m *paged.Manifest, pinned bool, frontier []triple.Id, predicate triple.Id, dir Direction) (facts []triple.Triple, nextFrontier []triple.Id, err error) {
	seenFacts := make(map[string]bool)
	seenNodes := make(map[triple.Id]bool)
	for _, n := range frontier {
		var c triple.Criteria
		p := predicate
		n := n
		c.P = &p
		if dir == Forward {
			c.S = &n
		} else {
			c.O = &n
		}
		matched, qerr := e.Query(m, c, pinned)
		if qerr != nil {
			return nil, nil, qerr
		}
		for _, t := range matched {
			if seenFacts[t.Key()] {
				continue
			}
			seenFacts[t.Key()] = true
			facts = append(facts, t)
			far := t.O
			if dir == Reverse {
				far = t.S
			}
			if !seenNodes[far] {
				seenNodes[far] = true
				nextFrontier = append(nextFrontier, far)
			}
		}
	}
	return facts, nextFrontier, nil
}

// Uniqueness controls how followPath deduplicates nodes/edges across
// layers of the breadth-first search.
type Uniqueness uint8

const (
	UniquenessNone Uniqueness = iota
	UniquenessNode
	UniquenessEdge
)

// FollowPath performs a breadth-first, layer-by-layer traversal from
// frontier, emitting every triple whose depth (1-indexed hop count) falls
// within [min, max], honoring the requested uniqueness mode.
func (e *Engine) FollowPath(m *paged.Manifest, pinned bool, frontier []triple.Id, predicate triple.Id, minDepth, maxDepth int, dir Direction, uniq Uniqueness) ([]triple.Triple, error) {
	var out []triple.Triple
	visitedNodes := make(map[triple.Id]bool)
	visitedEdges := make(map[string]bool)
	for _, n := range frontier {
		visitedNodes[n] = true
	}

	current := frontier
	for depth := 1; depth <= maxDepth && len(current) > 0; depth++ {
		facts, next, err := e.Traverse(m, pinned, current, predicate, dir)
		if err != nil {
			return nil, err
		}

		var filteredNext []triple.Id
		for _, t := range facts {
			if uniq == UniquenessEdge && visitedEdges[t.Key()] {
				continue
			}
			far := t.O
			if dir == Reverse {
				far = t.S
			}
			if uniq == UniquenessNode && visitedNodes[far] {
				continue
			}
			visitedEdges[t.Key()] = true
			if depth >= minDepth {
				out = append(out, t)
			}
			if !visitedNodes[far] {
				filteredNext = append(filteredNext, far)
			}
			visitedNodes[far] = true
		}
		current = filteredNext
	}
	return out, nil
}
