package paged

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/internal/codec"
	"github.com/nervusdb/nervusdb/internal/triple"
)

func TestManifestAddAndRetirePages(t *testing.T) {
	m := New(4096, Compression{Codec: codec.CodecRaw})
	ref1 := PageRef{PrimaryValue: 1, PageId: 1, Offset: 0, Length: 40, Count: 3}
	m.AddPage(triple.SPO, ref1)

	found := m.PagesFor(triple.SPO, 1)
	require.Len(t, found, 1)
	assert.Equal(t, ref1, found[0])

	m.RetirePages(triple.SPO, []PageRef{ref1}, 2)
	assert.Empty(t, m.PagesFor(triple.SPO, 1))
	require.Len(t, m.Orphans, 1)
	assert.Equal(t, uint64(1), m.Orphans[0].PageId)
	assert.Equal(t, int64(2), m.Orphans[0].RetiredAtEpoch)
}

func TestManifestTombstones(t *testing.T) {
	m := New(4096, Compression{Codec: codec.CodecRaw})
	tr := triple.Triple{S: 1, P: 2, O: 3}
	assert.False(t, m.HasTombstone(tr))
	m.AddTombstone(tr)
	assert.True(t, m.HasTombstone(tr))
	m.AddTombstone(tr) // idempotent
	assert.Len(t, m.Tombstones, 1)

	m.RemoveTombstone(tr)
	assert.False(t, m.HasTombstone(tr))
	assert.Empty(t, m.Tombstones)

	m.RemoveTombstone(tr) // no-op when absent
	assert.Empty(t, m.Tombstones)
}

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	m := New(4096, Compression{Codec: codec.CodecBrotli, Level: 5})
	m.Epoch = 3
	m.AddPage(triple.SPO, PageRef{PrimaryValue: 9, PageId: 1, Offset: 0, Length: 20, Count: 2})
	m.AddTombstone(triple.Triple{S: 1, P: 2, O: 3})

	path := filepath.Join(t.TempDir(), "index-manifest.json")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Epoch)
	assert.Len(t, loaded.PagesFor(triple.SPO, 9), 1)
	assert.True(t, loaded.HasTombstone(triple.Triple{S: 1, P: 2, O: 3}))
}

func TestManifestReferencedAndOrphanIdsDisjoint(t *testing.T) {
	m := New(4096, Compression{Codec: codec.CodecRaw})
	m.AddPage(triple.SPO, PageRef{PrimaryValue: 1, PageId: 1})
	m.AddPage(triple.SPO, PageRef{PrimaryValue: 2, PageId: 2})
	m.RetirePages(triple.SPO, []PageRef{{PrimaryValue: 2, PageId: 2}}, 1)

	refs := m.ReferencedPageIds()
	orphans := m.OrphanIds()
	assert.False(t, refs.Intersects(orphans))
}

func TestManifestClonedMutationDoesNotAffectOriginal(t *testing.T) {
	m := New(4096, Compression{Codec: codec.CodecRaw})
	m.AddPage(triple.SPO, PageRef{PrimaryValue: 1, PageId: 1})
	clone := m.Clone()
	clone.AddPage(triple.SPO, PageRef{PrimaryValue: 2, PageId: 2})

	assert.Len(t, m.PagesFor(triple.SPO, 1), 1)
	assert.Empty(t, m.PagesFor(triple.SPO, 2))
	assert.Len(t, clone.PagesFor(triple.SPO, 2), 1)
}
