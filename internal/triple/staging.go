package triple

import (
	"sync"

	"github.com/google/btree"
)

// entry is a single (primary, secondary, tertiary) tuple stored in one
// order's btree, ordered lexicographically by (primary, secondary,
// tertiary) — which is exactly the on-disk posting-list order for that
// index order (spec §3 PostingList).
type entry struct {
	primary, secondary, tertiary Id
}

func less(a, b entry) bool {
	if a.primary != b.primary {
		return a.primary < b.primary
	}
	if a.secondary != b.secondary {
		return a.secondary < b.secondary
	}
	return a.tertiary < b.tertiary
}

const btreeDegree = 32

// StagingIndex mirrors a Store's triple set in six bucketed, ordered trees
// (one per Order) so reads can range-scan a primary value without a linear
// scan of the write buffer.
type StagingIndex struct {
	mu   sync.RWMutex
	tree [6]*btree.BTreeG[entry]
}

// NewStagingIndex creates an empty six-order staging index.
func NewStagingIndex() *StagingIndex {
	si := &StagingIndex{}
	for i := range si.tree {
		si.tree[i] = btree.NewG(btreeDegree, less)
	}
	return si
}

// Add mirrors an insertion into all six orders. Call alongside Store.Add.
func (si *StagingIndex) Add(t Triple) {
	si.mu.Lock()
	defer si.mu.Unlock()
	for _, o := range Orders {
		p, s, te := o.Dims(t)
		si.tree[o].ReplaceOrInsert(entry{p, s, te})
	}
}

// Remove mirrors a deletion from all six orders. Call alongside Store.Remove.
func (si *StagingIndex) Remove(t Triple) {
	si.mu.Lock()
	defer si.mu.Unlock()
	for _, o := range Orders {
		p, s, te := o.Dims(t)
		si.tree[o].Delete(entry{p, s, te})
	}
}

// Iterate yields every staged triple in the given order whose fixed
// dimensions (primary, and optionally secondary) match, in ascending
// (secondary, tertiary) order within the primary. A nil primary means "full
// scan of this order" (ascending by primary too).
func (si *StagingIndex) Iterate(order Order, primary, secondary *Id, yield func(Triple) bool) {
	si.mu.RLock()
	defer si.mu.RUnlock()
	tr := si.tree[order]

	visit := func(e entry) bool {
		if primary != nil && e.primary != *primary {
			return false // past this primary's run, since the tree is primary-sorted
		}
		if secondary != nil && e.secondary != *secondary {
			// Ascending from the (primary, secondary) pivot, a mismatch here
			// means we've moved past the requested secondary bucket.
			return false
		}
		return yield(order.FromDims(e.primary, e.secondary, e.tertiary))
	}

	if primary != nil {
		pivot := entry{primary: *primary}
		if secondary != nil {
			pivot.secondary = *secondary
		}
		tr.AscendGreaterOrEqual(pivot, visit)
		return
	}
	tr.Ascend(visit)
}

// Contains reports whether t is present in this order's tree (used by
// tests and invariant checks; the canonical membership check is Store).
func (si *StagingIndex) Contains(order Order, t Triple) bool {
	si.mu.RLock()
	defer si.mu.RUnlock()
	p, s, te := order.Dims(t)
	_, ok := si.tree[order].Get(entry{p, s, te})
	return ok
}

// Len returns the number of staged triples (same across all six orders).
func (si *StagingIndex) Len() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.tree[SPO].Len()
}
