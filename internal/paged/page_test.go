package paged

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/internal/codec"
	"github.com/nervusdb/nervusdb/internal/triple"
)

func TestEncodeDecodePageRawRoundTrip(t *testing.T) {
	triples := []triple.Triple{
		{S: 1, P: 2, O: 3},
		{S: 1, P: 4, O: 1},
		{S: 1, P: 2, O: 9},
	}
	frame, err := EncodePage(triple.SPO, 1, triples, codec.CodecRaw, 0)
	require.NoError(t, err)

	page, err := DecodePage(triple.SPO, frame)
	require.NoError(t, err)
	assert.Equal(t, triple.Id(1), page.Primary)
	assert.Len(t, page.Triples, 3)
	assert.ElementsMatch(t, triples, page.Triples)

	// sorted by (predicate, object) ascending within the page
	assert.Equal(t, triple.Triple{S: 1, P: 2, O: 3}, page.Triples[0])
	assert.Equal(t, triple.Triple{S: 1, P: 2, O: 9}, page.Triples[1])
	assert.Equal(t, triple.Triple{S: 1, P: 4, O: 1}, page.Triples[2])
}

func TestEncodeDecodePageBrotliRoundTrip(t *testing.T) {
	triples := []triple.Triple{
		{S: 7, P: 1, O: 100},
		{S: 7, P: 2, O: 50},
	}
	frame, err := EncodePage(triple.SPO, 7, triples, codec.CodecBrotli, 5)
	require.NoError(t, err)

	page, err := DecodePage(triple.SPO, frame)
	require.NoError(t, err)
	assert.ElementsMatch(t, triples, page.Triples)
}

func TestDecodePageDetectsCRCTamper(t *testing.T) {
	frame, err := EncodePage(triple.SPO, 1, []triple.Triple{{S: 1, P: 2, O: 3}}, codec.CodecRaw, 0)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	_, err = DecodePage(triple.SPO, frame)
	require.Error(t, err)
}

func TestEncodeEmptyPage(t *testing.T) {
	frame, err := EncodePage(triple.SPO, 3, nil, codec.CodecRaw, 0)
	require.NoError(t, err)
	page, err := DecodePage(triple.SPO, frame)
	require.NoError(t, err)
	assert.Empty(t, page.Triples)
}
