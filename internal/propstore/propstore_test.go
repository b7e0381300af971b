package propstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNodeBumpsVersionOnChange(t *testing.T) {
	s := New(nil)
	v1, err := s.SetNode(1, map[string]interface{}{"name": "alice"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, uint64(1), s.Version())

	v2, err := s.SetNode(1, map[string]interface{}{"name": "alicia"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2)
	assert.Equal(t, uint64(2), s.Version())
}

func TestSetNodeNoOpStillBumpsDocVersionNotStoreVersion(t *testing.T) {
	s := New(nil)
	_, err := s.SetNode(1, map[string]interface{}{"name": "alice"})
	require.NoError(t, err)
	storeVersionAfterFirst := s.Version()

	v2, err := s.SetNode(1, map[string]interface{}{"name": "alice"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2, "__v must bump even on a no-op write")
	assert.Equal(t, storeVersionAfterFirst, s.Version(), "store version should not bump on identical bytes")
}

func TestGetNodeMissing(t *testing.T) {
	s := New(nil)
	_, ok := s.GetNode(42)
	assert.False(t, ok)
}

func TestEdgeProperties(t *testing.T) {
	s := New(nil)
	key := EdgeKey{S: 1, P: 2, O: 3}
	_, err := s.SetEdge(key, map[string]interface{}{"weight": 4.5})
	require.NoError(t, err)
	doc, ok := s.GetEdge(key)
	require.True(t, ok)
	v, err := doc.Value()
	require.NoError(t, err)
	m := v.(map[string]interface{})
	assert.Equal(t, 4.5, m["weight"])
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := New(nil)
	_, _ = s.SetNode(1, map[string]interface{}{"a": 1})
	_, _ = s.SetEdge(EdgeKey{S: 1, P: 2, O: 3}, map[string]interface{}{"w": 1.0})

	var buf bytes.Buffer
	_, err := s.WriteTo(&buf)
	require.NoError(t, err)

	s2, err := ReadFrom(&buf, nil)
	require.NoError(t, err)

	d1, ok := s2.GetNode(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), d1.Version)

	d2, ok := s2.GetEdge(EdgeKey{S: 1, P: 2, O: 3})
	require.True(t, ok)
	assert.Equal(t, uint64(1), d2.Version)
}

func TestDeleteNode(t *testing.T) {
	s := New(nil)
	_, _ = s.SetNode(1, 1)
	s.DeleteNode(1)
	_, ok := s.GetNode(1)
	assert.False(t, ok)
}
