package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	var buf []byte
	buf = PutUvarint(buf, 42)
	buf = PutUvarint(buf, 1<<40)
	v1, off, err := ReadUvarint(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v1)
	v2, _, err := ReadUvarint(buf, off)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), v2)
}

func TestReadUvarintTruncated(t *testing.T) {
	_, _, err := ReadUvarint([]byte{0x80, 0x80}, 0)
	require.Error(t, err)
	assert.True(t, IsTruncatedVarint(err))
}

func TestCanonicalJSONKeyOrderStable(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"z": 1, "y": 2}}
	b := map[string]interface{}{"c": map[string]interface{}{"y": 2, "z": 1}, "a": 2, "b": 1}
	encA, err := CanonicalJSON(a)
	require.NoError(t, err)
	encB, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, encA, encB)
}

func TestCRC32Deterministic(t *testing.T) {
	assert.Equal(t, CRC32([]byte("hello")), CRC32([]byte("hello")))
	assert.NotEqual(t, CRC32([]byte("hello")), CRC32([]byte("hellp")))
}
