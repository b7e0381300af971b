package triple

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func id(v uint64) *Id { return &v }

func TestSelectOrderFixedPairs(t *testing.T) {
	s, p, o := Id(1), Id(2), Id(3)
	assert.Equal(t, SPO, SelectOrder(Criteria{S: &s, P: &p}))
	assert.Equal(t, SOP, SelectOrder(Criteria{S: &s, O: &o}))
	assert.Equal(t, POS, SelectOrder(Criteria{P: &p, O: &o}))
	assert.Equal(t, SPO, SelectOrder(Criteria{S: &s}))
	assert.Equal(t, POS, SelectOrder(Criteria{P: &p}))
	assert.Equal(t, OSP, SelectOrder(Criteria{O: &o}))
	assert.Equal(t, SPO, SelectOrder(Criteria{}))
}

func TestDimsRoundTrip(t *testing.T) {
	tr := Triple{S: 10, P: 20, O: 30}
	for _, o := range Orders {
		p, s, te := o.Dims(tr)
		got := o.FromDims(p, s, te)
		assert.Equal(t, tr, got, "order %s should round-trip", o)
	}
}

func TestCriteriaMatches(t *testing.T) {
	s := Id(1)
	c := Criteria{S: &s}
	assert.True(t, c.Matches(Triple{S: 1, P: 2, O: 3}))
	assert.False(t, c.Matches(Triple{S: 2, P: 2, O: 3}))
}

func TestOrderStringParse(t *testing.T) {
	for _, o := range Orders {
		parsed, ok := ParseOrder(o.String())
		assert.True(t, ok)
		assert.Equal(t, o, parsed)
	}
	_, ok := ParseOrder("bogus")
	assert.False(t, ok)
}
