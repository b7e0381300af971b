package nervusdb

import (
	"time"

	"github.com/nervusdb/nervusdb/internal/conc"
	"github.com/nervusdb/nervusdb/internal/paged"
	"github.com/nervusdb/nervusdb/internal/triple"
	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

// Snapshot pins a manifest epoch so a caller can run several queries
// against a single consistent view while writers keep advancing the live
// store (spec §6 query(criteria, {pinnedEpoch}), §8 scenario 4). Compaction
// and garbage collection never delete page bytes a Snapshot still
// references as long as the Snapshot is registered as a reader (see
// Store.Snapshot); always Close a Snapshot once done with it.
type Snapshot struct {
	store    *Store
	manifest *paged.Manifest
	reader   *conc.Reader
}

// Snapshot clones the live manifest into an independently readable,
// epoch-pinned view. If register is true, a reader is recorded at the
// snapshot's epoch so GarbageCollectPages will not reclaim pages it needs
// until the Snapshot is closed.
func (s *Store) Snapshot(register bool) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{store: s, manifest: s.manifest.Clone()}
	if register {
		rec, err := s.readers.Register(snap.manifest.Epoch, time.Now().Unix(), "")
		if err != nil {
			return nil, err
		}
		snap.reader = rec
	}
	return snap, nil
}

// Close releases the reader registration backing a Snapshot, if any.
func (snap *Snapshot) Close() error {
	if snap.reader == nil {
		return nil
	}
	return snap.store.readers.Unregister(snap.reader)
}

func (s *Store) manifestFor(snap *Snapshot) *paged.Manifest {
	if snap != nil {
		return snap.manifest
	}
	return s.manifest
}

func (s *Store) resolveCriteria(c Criteria) (triple.Criteria, bool) {
	var out triple.Criteria
	if c.S != nil {
		id, ok := s.dict.GetId(*c.S)
		if !ok {
			return out, false
		}
		out.S = &id
	}
	if c.P != nil {
		id, ok := s.dict.GetId(*c.P)
		if !ok {
			return out, false
		}
		out.P = &id
	}
	if c.O != nil {
		id, ok := s.dict.GetId(*c.O)
		if !ok {
			return out, false
		}
		out.O = &id
	}
	return out, true
}

func (s *Store) resolveTriples(ts []triple.Triple) []ResolvedTriple {
	out := make([]ResolvedTriple, 0, len(ts))
	for _, t := range ts {
		sv, _ := s.dict.GetValue(t.S)
		pv, _ := s.dict.GetValue(t.P)
		ov, _ := s.dict.GetValue(t.O)
		out = append(out, ResolvedTriple{S: sv, P: pv, O: ov})
	}
	return out
}

func (s *Store) resolveNodeIds(values []string) ([]triple.Id, bool) {
	ids := make([]triple.Id, 0, len(values))
	for _, v := range values {
		id, ok := s.dict.GetId(v)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// Query returns every fact matching c, reading through snap if given or the
// live staging+paged index otherwise. A criteria dimension referencing a
// string never interned by this store matches nothing.
func (s *Store) Query(c Criteria, snap *Snapshot) ([]ResolvedTriple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	crit, ok := s.resolveCriteria(c)
	if !ok {
		return nil, nil
	}
	facts, err := s.engine.Query(s.manifestFor(snap), crit, snap != nil)
	if err != nil {
		return nil, err
	}
	if s.hotness != nil {
		order := triple.SelectOrder(crit)
		if primary, _ := order.Bounds(crit); primary != nil {
			s.hotness.Touch(uint8(order), *primary, time.Now().Unix())
		}
	}
	return s.resolveTriples(facts), nil
}

// Traverse takes one hop from frontier along predicate in direction dir.
func (s *Store) Traverse(frontier []string, predicate string, dir Direction, snap *Snapshot) ([]ResolvedTriple, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.resolveNodeIds(frontier)
	if !ok {
		return nil, nil, nil
	}
	pid, ok := s.dict.GetId(predicate)
	if !ok {
		return nil, nil, nil
	}
	facts, next, err := s.engine.Traverse(s.manifestFor(snap), snap != nil, ids, pid, dir)
	if err != nil {
		return nil, nil, err
	}
	nextValues := make([]string, 0, len(next))
	for _, id := range next {
		v, _ := s.dict.GetValue(id)
		nextValues = append(nextValues, v)
	}
	return s.resolveTriples(facts), nextValues, nil
}

// FollowPath runs a breadth-first expansion from frontier, returning every
// edge visited between minDepth and maxDepth hops.
func (s *Store) FollowPath(frontier []string, predicate string, opts PathOptions, snap *Snapshot) ([]ResolvedTriple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.resolveNodeIds(frontier)
	if !ok {
		return nil, nil
	}
	pid, ok := s.dict.GetId(predicate)
	if !ok {
		return nil, nil
	}
	facts, err := s.engine.FollowPath(s.manifestFor(snap), snap != nil, ids, pid, opts.MinDepth, opts.MaxDepth, opts.Direction, opts.Uniqueness)
	if err != nil {
		return nil, err
	}
	return s.resolveTriples(facts), nil
}

// ShortestPath finds an unweighted shortest connecting path between source
// and target, only hopping along predicates in predicates, within maxHops.
func (s *Store) ShortestPath(source, target string, predicates []string, maxHops int, snap *Snapshot) ([]ResolvedTriple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, ok := s.dict.GetId(source)
	if !ok {
		return nil, nerr.NotFound("nervusdb: source node not found")
	}
	tid, ok := s.dict.GetId(target)
	if !ok {
		return nil, nerr.NotFound("nervusdb: target node not found")
	}
	preds, ok := s.resolveNodeIds(predicates)
	if !ok {
		return nil, nil
	}
	facts, err := s.engine.BidirectionalPath(s.manifestFor(snap), snap != nil, sid, tid, preds, maxHops)
	if err != nil {
		return nil, err
	}
	return s.resolveTriples(facts), nil
}

// ShortestPathWeighted finds the minimum-weight connecting path along
// predicate edges, reading each edge's weight from weightKey in its
// property document (spec §4.6).
func (s *Store) ShortestPathWeighted(source, target, predicate, weightKey string, snap *Snapshot) ([]ResolvedTriple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, ok := s.dict.GetId(source)
	if !ok {
		return nil, nerr.NotFound("nervusdb: source node not found")
	}
	tid, ok := s.dict.GetId(target)
	if !ok {
		return nil, nerr.NotFound("nervusdb: target node not found")
	}
	pid, ok := s.dict.GetId(predicate)
	if !ok {
		return nil, nerr.NotFound("nervusdb: predicate not found")
	}
	facts, err := s.engine.ShortestPathWeighted(s.manifestFor(snap), snap != nil, sid, tid, pid, weightKey)
	if err != nil {
		return nil, err
	}
	return s.resolveTriples(facts), nil
}
