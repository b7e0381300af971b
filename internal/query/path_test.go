package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/internal/triple"
)

func TestBidirectionalPathFindsShortChain(t *testing.T) {
	e, store, staging, _, m, _ := newTestEngine(t)
	knows := triple.Id(100)
	addStaged(store, staging, triple.Triple{S: 1, P: knows, O: 2})
	addStaged(store, staging, triple.Triple{S: 2, P: knows, O: 3})
	addStaged(store, staging, triple.Triple{S: 3, P: knows, O: 4})

	path, err := e.BidirectionalPath(m, false, 1, 4, []triple.Id{knows}, 5)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, triple.Id(1), path[0].S)
	assert.Equal(t, triple.Id(4), path[len(path)-1].O)
}

func TestBidirectionalPathReturnsNilBeyondMaxHops(t *testing.T) {
	e, store, staging, _, m, _ := newTestEngine(t)
	knows := triple.Id(100)
	addStaged(store, staging, triple.Triple{S: 1, P: knows, O: 2})
	addStaged(store, staging, triple.Triple{S: 2, P: knows, O: 3})
	addStaged(store, staging, triple.Triple{S: 3, P: knows, O: 4})

	path, err := e.BidirectionalPath(m, false, 1, 4, []triple.Id{knows}, 1)
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestBidirectionalPathPinnedIgnoresLiveStagingAddition(t *testing.T) {
	e, store, staging, idx, m, _ := newTestEngine(t)
	knows := triple.Id(100)
	require.NoError(t, idx.AppendFromStaging(m, []triple.Triple{
		{S: 1, P: knows, O: 2},
		{S: 2, P: knows, O: 3},
	}, nil, 100))

	// This extra hop is only visible to an unpinned traversal.
	addStaged(store, staging, triple.Triple{S: 3, P: knows, O: 4})

	pinned, err := e.BidirectionalPath(m, true, 1, 4, []triple.Id{knows}, 5)
	require.NoError(t, err)
	assert.Nil(t, pinned, "a pinned traversal must not see the live staged hop to reach node 4")

	live, err := e.BidirectionalPath(m, false, 1, 4, []triple.Id{knows}, 5)
	require.NoError(t, err)
	require.Len(t, live, 3)
}

func TestShortestPathWeightedPrefersLowerWeightRoute(t *testing.T) {
	e, store, staging, _, m, props := newTestEngine(t)
	roadTo := triple.Id(200)

	direct := triple.Triple{S: 1, P: roadTo, O: 2}
	viaDetour1 := triple.Triple{S: 1, P: roadTo, O: 3}
	viaDetour2 := triple.Triple{S: 3, P: roadTo, O: 2}
	addStaged(store, staging, direct)
	addStaged(store, staging, viaDetour1)
	addStaged(store, staging, viaDetour2)

	_, err := props.SetEdge(direct, map[string]interface{}{"weight": 10.0})
	require.NoError(t, err)
	_, err = props.SetEdge(viaDetour1, map[string]interface{}{"weight": 1.0})
	require.NoError(t, err)
	_, err = props.SetEdge(viaDetour2, map[string]interface{}{"weight": 1.0})
	require.NoError(t, err)

	path, err := e.ShortestPathWeighted(m, false, 1, 2, roadTo, "weight")
	require.NoError(t, err)
	require.Len(t, path, 2, "the detour has lower total weight (2) than the direct edge (10)")
	assert.Equal(t, triple.Id(3), path[0].O)
}

func TestShortestPathWeightedDefaultsMissingWeightToOne(t *testing.T) {
	e, store, staging, _, m, _ := newTestEngine(t)
	edge := triple.Id(300)
	addStaged(store, staging, triple.Triple{S: 1, P: edge, O: 2})

	path, err := e.ShortestPathWeighted(m, false, 1, 2, edge, "weight")
	require.NoError(t, err)
	require.Len(t, path, 1)
}

func TestShortestPathWeightedUnreachableReturnsNil(t *testing.T) {
	e, _, _, _, m, _ := newTestEngine(t)
	path, err := e.ShortestPathWeighted(m, false, 1, 99, triple.Id(1), "weight")
	require.NoError(t, err)
	assert.Nil(t, path)
}
