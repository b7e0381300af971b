package query

import (
	"container/heap"

	"github.com/nervusdb/nervusdb/internal/paged"
	"github.com/nervusdb/nervusdb/internal/triple"
)

// traverseAny is Traverse generalized to a set of predicates: a hop is
// taken if the edge's predicate is in predicates at all (used by
// BidirectionalPath, spec §4.6).
func (e *Engine) traverseAny(m *paged.Manifest, pinned bool, frontier []triple.Id, predicates []triple.Id, dir Direction) (facts []triple.Triple, nextFrontier []triple.Id, err error) {
	seenFacts := make(map[string]bool)
	seenNodes := make(map[triple.Id]bool)
	for _, pred := range predicates {
		hopFacts, hopFrontier, qerr := e.Traverse(m, pinned, frontier, pred, dir)
		if qerr != nil {
			return nil, nil, qerr
		}
		for _, t := range hopFacts {
			if seenFacts[t.Key()] {
				continue
			}
			seenFacts[t.Key()] = true
			facts = append(facts, t)
		}
		for _, n := range hopFrontier {
			if !seenNodes[n] {
				seenNodes[n] = true
				nextFrontier = append(nextFrontier, n)
			}
		}
	}
	return facts, nextFrontier, nil
}

// BidirectionalPath searches outward from source and backward from target
// simultaneously, one hop at a time, stopping as soon as the two frontiers
// share a node. It returns the ordered edge list of a shortest (by hop
// count) connecting path, or nil if none exists within maxHops.
func (e *Engine) BidirectionalPath(m *paged.Manifest, pinned bool, source, target triple.Id, predicates []triple.Id, maxHops int) ([]triple.Triple, error) {
	if source == target {
		return []triple.Triple{}, nil
	}

	fwdParent := map[triple.Id]triple.Triple{source: {}}
	fwdFrontier := []triple.Id{source}
	bwdParent := map[triple.Id]triple.Triple{target: {}}
	bwdFrontier := []triple.Id{target}

	if meeting, ok := intersect(fwdFrontier, bwdParent); ok {
		return reconstructMeeting(fwdParent, bwdParent, source, target, meeting), nil
	}

	for hops := 0; hops < maxHops; {
		facts, next, err := e.traverseAny(m, pinned, fwdFrontier, predicates, Forward)
		if err != nil {
			return nil, err
		}
		for _, t := range facts {
			if _, ok := fwdParent[t.O]; !ok {
				fwdParent[t.O] = t
			}
		}
		fwdFrontier = next
		hops++
		if meeting, ok := intersect(fwdFrontier, bwdParent); ok {
			return reconstructMeeting(fwdParent, bwdParent, source, target, meeting), nil
		}
		if hops >= maxHops {
			break
		}

		facts, next, err = e.traverseAny(m, pinned, bwdFrontier, predicates, Reverse)
		if err != nil {
			return nil, err
		}
		for _, t := range facts {
			if _, ok := bwdParent[t.S]; !ok {
				bwdParent[t.S] = t
			}
		}
		bwdFrontier = next
		hops++
		if meeting, ok := intersect(fwdFrontier, bwdParent); ok {
			return reconstructMeeting(fwdParent, bwdParent, source, target, meeting), nil
		}
		if len(fwdFrontier) == 0 && len(bwdFrontier) == 0 {
			break
		}
	}
	return nil, nil
}

func intersect(frontier []triple.Id, other map[triple.Id]triple.Triple) (triple.Id, bool) {
	for _, n := range frontier {
		if _, ok := other[n]; ok {
			return n, true
		}
	}
	return 0, false
}

func reconstructMeeting(fwdParent, bwdParent map[triple.Id]triple.Triple, source, target, meeting triple.Id) []triple.Triple {
	var forwardHalf []triple.Triple
	for n := meeting; n != source; {
		edge := fwdParent[n]
		forwardHalf = append([]triple.Triple{edge}, forwardHalf...)
		n = edge.S
	}
	var backwardHalf []triple.Triple
	for n := meeting; n != target; {
		edge := bwdParent[n]
		backwardHalf = append(backwardHalf, edge)
		n = edge.O
	}
	return append(forwardHalf, backwardHalf...)
}

// weightedEdge is one outgoing edge with its resolved Dijkstra weight.
type weightedEdge struct {
	fact   triple.Triple
	weight float64
}

func (e *Engine) outgoingWeighted(m *paged.Manifest, pinned bool, node triple.Id, predicate triple.Id, weightKey string) ([]weightedEdge, error) {
	s := node
	p := predicate
	matched, err := e.Query(m, triple.Criteria{S: &s, P: &p}, pinned)
	if err != nil {
		return nil, err
	}
	out := make([]weightedEdge, 0, len(matched))
	for _, t := range matched {
		out = append(out, weightedEdge{fact: t, weight: e.edgeWeight(t, weightKey)})
	}
	return out, nil
}

// edgeWeight reads weightKey from t's property document, defaulting to 1
// when the document, key, or value is missing or non-finite (spec §4.6).
func (e *Engine) edgeWeight(t triple.Triple, weightKey string) float64 {
	if e.props == nil {
		return 1
	}
	doc, ok := e.props.GetEdge(t)
	if !ok {
		return 1
	}
	v, err := doc.Value()
	if err != nil {
		return 1
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return 1
	}
	raw, ok := m[weightKey]
	if !ok {
		return 1
	}
	f, ok := raw.(float64)
	if !ok || f != f || f < 0 {
		return 1
	}
	return f
}

// dijkstraItem is one entry in the shortest-path priority queue.
type dijkstraItem struct {
	node triple.Id
	dist float64
}

type dijkstraQueue []dijkstraItem

func (q dijkstraQueue) Len() int            { return len(q) }
func (q dijkstraQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q dijkstraQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *dijkstraQueue) Push(x interface{}) { *q = append(*q, x.(dijkstraItem)) }
func (q *dijkstraQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// ShortestPathWeighted runs Dijkstra from source to target, following only
// predicate edges, weighting each hop by its property document's
// weightKey. It returns the ordered edge list, or nil if target is
// unreachable.
func (e *Engine) ShortestPathWeighted(m *paged.Manifest, pinned bool, source, target triple.Id, predicate triple.Id, weightKey string) ([]triple.Triple, error) {
	if source == target {
		return []triple.Triple{}, nil
	}
	dist := map[triple.Id]float64{source: 0}
	parent := map[triple.Id]triple.Triple{}
	visited := map[triple.Id]bool{}

	pq := &dijkstraQueue{{node: source, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(dijkstraItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		if cur.node == target {
			return reconstructDijkstra(parent, source, target), nil
		}

		edges, err := e.outgoingWeighted(m, pinned, cur.node, predicate, weightKey)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			if visited[edge.fact.O] {
				continue
			}
			alt := cur.dist + edge.weight
			if existing, ok := dist[edge.fact.O]; !ok || alt < existing {
				dist[edge.fact.O] = alt
				parent[edge.fact.O] = edge.fact
				heap.Push(pq, dijkstraItem{node: edge.fact.O, dist: alt})
			}
		}
	}
	return nil, nil
}

func reconstructDijkstra(parent map[triple.Id]triple.Triple, source, target triple.Id) []triple.Triple {
	var path []triple.Triple
	for n := target; n != source; {
		edge, ok := parent[n]
		if !ok {
			return nil
		}
		path = append([]triple.Triple{edge}, path...)
		n = edge.S
	}
	return path
}
