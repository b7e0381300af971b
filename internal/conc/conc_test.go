package conc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerr "github.com/nervusdb/nervusdb/pkg/errors"
)

func TestFileLockExclusivity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "P.lock")

	l1 := NewFileLock(path)
	require.NoError(t, l1.TryLock())
	assert.True(t, l1.Locked())

	l2 := NewFileLock(path)
	err := l2.TryLock()
	require.Error(t, err)
	assert.True(t, nerr.IsConflict(err))

	require.NoError(t, l1.Unlock())
}

func TestReaderRegistryRegisterListUnregister(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewReaderRegistry(dir)
	require.NoError(t, err)

	r1, err := reg.Register(5, 100, "sess-a")
	require.NoError(t, err)
	r2, err := reg.Register(3, 101, "sess-b")
	require.NoError(t, err)

	readers, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, readers, 2)

	minEpoch, any, err := reg.MinEpoch()
	require.NoError(t, err)
	assert.True(t, any)
	assert.Equal(t, int64(3), minEpoch)

	require.NoError(t, reg.Unregister(r2))
	readers, err = reg.List()
	require.NoError(t, err)
	assert.Len(t, readers, 1)

	require.NoError(t, reg.Unregister(r1))
	_, any, err = reg.MinEpoch()
	require.NoError(t, err)
	assert.False(t, any)
}

func TestHotnessTouchIncreasesScore(t *testing.T) {
	h := NewHotness(filepath.Join(t.TempDir(), "hotness.json"))
	h.Touch(0, 42, 1000)
	h.Touch(0, 42, 1000)
	assert.Equal(t, float64(2), h.Score(0, 42, 1000))
}

func TestHotnessDecaysOverHalfLife(t *testing.T) {
	h := NewHotness(filepath.Join(t.TempDir(), "hotness.json"))
	h.Touch(0, 42, 0)
	score := h.Score(0, 42, halfLifeSeconds)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestHotnessSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotness.json")
	h := NewHotness(path)
	h.Touch(1, 7, 500)
	require.NoError(t, h.Save())

	h2, err := LoadHotness(path)
	require.NoError(t, err)
	assert.Equal(t, float64(1), h2.Score(1, 7, 500))
}

func TestTxIdRegistrySeenRecord(t *testing.T) {
	r := NewTxIdRegistry(filepath.Join(t.TempDir(), "txids.json"), 0)
	assert.False(t, r.Seen("tx-1"))
	r.Record("tx-1", 100, "sess-a")
	assert.True(t, r.Seen("tx-1"))
}

func TestTxIdRegistrySaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txids.json")
	r := NewTxIdRegistry(path, 0)
	r.Record("tx-1", 100, "sess-a")
	r.Record("tx-2", 101, "sess-b")
	require.NoError(t, r.Save())

	r2, err := LoadTxIdRegistry(path, 0)
	require.NoError(t, err)
	assert.True(t, r2.Seen("tx-1"))
	assert.True(t, r2.Seen("tx-2"))
}

func TestTxIdRegistryEnforcesMaxRememberTxIds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txids.json")
	r := NewTxIdRegistry(path, 2)
	r.Record("tx-1", 100, "sess-a")
	r.Record("tx-2", 200, "sess-a")
	r.Record("tx-3", 300, "sess-a")

	assert.False(t, r.Seen("tx-1"), "oldest record should have been evicted once the cap was exceeded")
	assert.True(t, r.Seen("tx-2"))
	assert.True(t, r.Seen("tx-3"))
	assert.Len(t, r.ListTxIds(TxIdFilter{}), 2)

	require.NoError(t, r.Save())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max":2`)
	assert.Contains(t, string(data), `"version":1`)
}

func TestTxIdRegistryListFiltersBySessionAndSince(t *testing.T) {
	r := NewTxIdRegistry(filepath.Join(t.TempDir(), "txids.json"), 0)
	r.Record("tx-1", 100, "sess-a")
	r.Record("tx-2", 200, "sess-b")
	r.Record("tx-3", 300, "sess-a")

	sess := "sess-a"
	out := r.ListTxIds(TxIdFilter{SessionId: &sess})
	assert.Len(t, out, 2)
	assert.Equal(t, "tx-3", out[0].TxId) // most recent first

	since := int64(150)
	out = r.ListTxIds(TxIdFilter{Since: &since})
	assert.Len(t, out, 2)
}
