package triple

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAddIdempotent(t *testing.T) {
	s := NewStore()
	tr := Triple{S: 1, P: 2, O: 3}
	assert.True(t, s.Add(tr))
	assert.False(t, s.Add(tr))
	assert.Equal(t, uint64(1), s.Version())
	assert.Equal(t, 1, s.Len())
}

func TestStoreRemoveTombstones(t *testing.T) {
	s := NewStore()
	tr := Triple{S: 1, P: 2, O: 3}
	s.Add(tr)
	assert.True(t, s.Remove(tr))
	assert.False(t, s.Contains(tr))
	assert.Contains(t, s.Tombstones(), tr)
}

func TestStoreReAddCancelsTombstone(t *testing.T) {
	s := NewStore()
	tr := Triple{S: 1, P: 2, O: 3}
	s.Add(tr)
	s.Remove(tr)
	s.Add(tr)
	assert.True(t, s.Contains(tr))
	assert.NotContains(t, s.Tombstones(), tr)
}

func TestStagingIndexIteratesInOrder(t *testing.T) {
	si := NewStagingIndex()
	triples := []Triple{
		{S: 1, P: 1, O: 3},
		{S: 1, P: 1, O: 1},
		{S: 1, P: 2, O: 1},
		{S: 2, P: 1, O: 1},
	}
	for _, tr := range triples {
		si.Add(tr)
	}
	assert.Equal(t, 4, si.Len())

	one := Id(1)
	var gotSPO []Triple
	si.Iterate(SPO, &one, nil, func(tr Triple) bool {
		gotSPO = append(gotSPO, tr)
		return true
	})
	require.Len(t, gotSPO, 3)
	// Within subject=1, ordering is by predicate then object.
	assert.Equal(t, Triple{S: 1, P: 1, O: 1}, gotSPO[0])
	assert.Equal(t, Triple{S: 1, P: 1, O: 3}, gotSPO[1])
	assert.Equal(t, Triple{S: 1, P: 2, O: 1}, gotSPO[2])
}

func TestStagingIndexRemoveMirrorsAllOrders(t *testing.T) {
	si := NewStagingIndex()
	tr := Triple{S: 1, P: 2, O: 3}
	si.Add(tr)
	si.Remove(tr)
	for _, o := range Orders {
		assert.False(t, si.Contains(o, tr))
	}
}

func TestStagingIndexFullScan(t *testing.T) {
	si := NewStagingIndex()
	si.Add(Triple{S: 1, P: 1, O: 1})
	si.Add(Triple{S: 2, P: 1, O: 1})
	var count int
	si.Iterate(SPO, nil, nil, func(Triple) bool {
		count++
		return true
	})
	assert.Equal(t, 2, count)
}

func TestStoreDrainClears(t *testing.T) {
	s := NewStore()
	live := Triple{S: 1, P: 2, O: 3}
	removed := Triple{S: 4, P: 5, O: 6}
	s.Add(live)
	s.Add(removed)
	s.Remove(removed)

	gotLive, gotRemoved := s.Drain()
	assert.ElementsMatch(t, []Triple{live}, gotLive)
	assert.ElementsMatch(t, []Triple{removed}, gotRemoved)
	assert.Equal(t, 0, s.Len())
}
