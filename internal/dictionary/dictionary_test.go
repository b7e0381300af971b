package dictionary

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternIsIdempotent(t *testing.T) {
	d := New(nil)
	id1 := d.Intern("alice")
	id2 := d.Intern("alice")
	assert.Equal(t, id1, id2)
	assert.Equal(t, uint64(1), d.Version())
}

func TestInternAssignsMonotonicIds(t *testing.T) {
	d := New(nil)
	a := d.Intern("a")
	b := d.Intern("b")
	c := d.Intern("a")
	assert.Equal(t, a, c)
	assert.NotEqual(t, a, b)
	assert.Equal(t, Id(1), b)
}

func TestGetIdPureLookup(t *testing.T) {
	d := New(nil)
	_, ok := d.GetId("missing")
	assert.False(t, ok)
	id := d.Intern("present")
	got, ok := d.GetId("present")
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestResolveUnknownIsInvalidArgument(t *testing.T) {
	d := New(nil)
	_, err := d.Resolve("ghost")
	require.Error(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	d := New(nil)
	d.Intern("alice")
	d.Intern("bob")
	d.Intern("likes")

	var buf bytes.Buffer
	_, err := d.WriteTo(&buf)
	require.NoError(t, err)

	d2, err := ReadFrom(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, d.Len(), d2.Len())

	for _, s := range []string{"alice", "bob", "likes"} {
		id1, _ := d.GetId(s)
		id2, _ := d2.GetId(s)
		assert.Equal(t, id1, id2)
	}
}
