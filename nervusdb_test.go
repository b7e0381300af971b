package nervusdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/internal/maint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.IndexDirectory = filepath.Join(dir, "pages")
	s, err := Open(filepath.Join(dir, "graph.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(v string) *string { return &v }

func TestAddFactIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	fact := ResolvedTriple{S: "alice", P: "knows", O: "bob"}

	_, err := s.AddFact(fact, nil)
	require.NoError(t, err)
	_, err = s.AddFact(fact, nil)
	require.NoError(t, err)

	got, err := s.Query(Criteria{S: strPtr("alice")}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, fact, got[0])
}

func TestDeleteFactRemovesImmediately(t *testing.T) {
	s := openTestStore(t)
	fact := ResolvedTriple{S: "alice", P: "knows", O: "bob"}
	_, err := s.AddFact(fact, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteFact(fact))

	got, err := s.Query(Criteria{S: strPtr("alice")}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChainedAssociativeQuery(t *testing.T) {
	s := openTestStore(t)
	facts := []ResolvedTriple{
		{S: "alice", P: "knows", O: "bob"},
		{S: "bob", P: "knows", O: "carol"},
		{S: "carol", P: "knows", O: "dave"},
	}
	for _, f := range facts {
		_, err := s.AddFact(f, nil)
		require.NoError(t, err)
	}

	hop1, frontier, err := s.Traverse([]string{"alice"}, "knows", Forward, nil)
	require.NoError(t, err)
	require.Len(t, hop1, 1)
	assert.Equal(t, "bob", frontier[0])

	hop2, _, err := s.Traverse(frontier, "knows", Forward, nil)
	require.NoError(t, err)
	require.Len(t, hop2, 1)
	assert.Equal(t, "carol", hop2[0].O)

	path, err := s.FollowPath([]string{"alice"}, "knows", PathOptions{
		MinDepth: 1, MaxDepth: 3, Direction: Forward, Uniqueness: UniquenessNode,
	}, nil)
	require.NoError(t, err)
	assert.Len(t, path, 3)
}

func TestQueryMatchesRegardlessOfCriteriaOrder(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "bob"}, nil)
	require.NoError(t, err)
	_, err = s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "carol"}, nil)
	require.NoError(t, err)

	byS, err := s.Query(Criteria{S: strPtr("alice")}, nil)
	require.NoError(t, err)
	assert.Len(t, byS, 2)

	byP, err := s.Query(Criteria{P: strPtr("knows")}, nil)
	require.NoError(t, err)
	assert.Len(t, byP, 2)

	byBoth, err := s.Query(Criteria{S: strPtr("alice"), O: strPtr("bob")}, nil)
	require.NoError(t, err)
	require.Len(t, byBoth, 1)
	assert.Equal(t, "bob", byBoth[0].O)
}

func TestSnapshotIsolationAcrossCompaction(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "bob"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	snap, err := s.Snapshot(true)
	require.NoError(t, err)
	defer snap.Close()

	_, err = s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "carol"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	_, err = s.Compact(maint.CompactOptions{Full: true, MinMergePages: 1})
	require.NoError(t, err)

	pinned, err := s.Query(Criteria{S: strPtr("alice")}, snap)
	require.NoError(t, err)
	assert.Len(t, pinned, 1, "snapshot should not observe facts added after it was taken")

	live, err := s.Query(Criteria{S: strPtr("alice")}, nil)
	require.NoError(t, err)
	assert.Len(t, live, 2, "the live view should observe both facts")
}

// TestSnapshotIsolationBeforeFlush pins a manifest and then mutates the
// store without ever flushing, so the staged addition and the staged
// tombstone both live purely in memory. A pinned query must still see
// neither one (spec §4.6): this is the exact window the previous,
// compaction-only version of this test never opened, since flushing
// before every query drained staging before the pinned read ran.
func TestSnapshotIsolationBeforeFlush(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "bob"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	snap, err := s.Snapshot(true)
	require.NoError(t, err)
	defer snap.Close()

	// Added after the pin, never flushed.
	_, err = s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "carol"}, nil)
	require.NoError(t, err)

	pinned, err := s.Query(Criteria{S: strPtr("alice")}, snap)
	require.NoError(t, err)
	assert.Len(t, pinned, 1, "pinned read must not observe an unflushed staged addition")

	live, err := s.Query(Criteria{S: strPtr("alice")}, nil)
	require.NoError(t, err)
	assert.Len(t, live, 2, "live read observes the staged addition immediately")

	// Removed after the pin, never flushed.
	err = s.DeleteFact(ResolvedTriple{S: "alice", P: "knows", O: "bob"})
	require.NoError(t, err)

	pinned, err = s.Query(Criteria{S: strPtr("alice")}, snap)
	require.NoError(t, err)
	assert.Len(t, pinned, 1, "pinned read must not observe an unflushed staged delete of its own frozen fact")

	live, err = s.Query(Criteria{S: strPtr("alice")}, nil)
	require.NoError(t, err)
	assert.Len(t, live, 1, "live read observes the staged delete immediately")
}

func TestGarbageCollectRespectsRegisteredReaders(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.IndexDirectory = filepath.Join(dir, "pages")
	opts.RegisterReader = false
	s, err := Open(filepath.Join(dir, "graph.db"), opts)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "bob"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	snap, err := s.Snapshot(true)
	require.NoError(t, err)

	_, err = s.Compact(maint.CompactOptions{Full: true, MinMergePages: 1})
	require.NoError(t, err)

	result, err := s.GarbageCollectPages(maint.GCOptions{RespectReaders: true})
	require.NoError(t, err)
	assert.True(t, result.Skipped, "GC should skip while a reader is registered at an old epoch")

	require.NoError(t, snap.Close())

	result, err = s.GarbageCollectPages(maint.GCOptions{RespectReaders: true})
	require.NoError(t, err)
	assert.False(t, result.Skipped, "GC should proceed once the reader is unregistered")
}

func TestReopenRecoversFromWAL(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.IndexDirectory = filepath.Join(dir, "pages")
	dbPath := filepath.Join(dir, "graph.db")

	s, err := Open(dbPath, opts)
	require.NoError(t, err)
	_, err = s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "bob"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dbPath, opts)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Query(Criteria{S: strPtr("alice")}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].O)
}

func TestNodeAndEdgeProperties(t *testing.T) {
	s := openTestStore(t)
	fact := ResolvedTriple{S: "alice", P: "knows", O: "bob"}
	_, err := s.AddFact(fact, &FactProperties{
		Node: map[string]interface{}{"age": float64(30)},
		Edge: map[string]interface{}{"since": float64(2020)},
	})
	require.NoError(t, err)

	nodeDoc, ok, err := s.GetNodeProperties("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(30), nodeDoc.(map[string]interface{})["age"])

	edgeDoc, ok, err := s.GetEdgeProperties(fact)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(2020), edgeDoc.(map[string]interface{})["since"])
}

func TestExplicitBatchGroupsMutationsUnderOneTx(t *testing.T) {
	s := openTestStore(t)
	_, err := s.BeginBatch("", "session-1")
	require.NoError(t, err)

	_, err = s.AddFact(ResolvedTriple{S: "alice", P: "knows", O: "bob"}, nil)
	require.NoError(t, err)
	_, err = s.AddFact(ResolvedTriple{S: "bob", P: "knows", O: "carol"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.CommitBatch(true))

	got, err := s.Query(Criteria{}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
