package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound_HalfAwayFromZero(t *testing.T) {
	assert.True(t, Round(MustParse("10.005")).Equal(MustParse("10.01")))
	assert.True(t, Round(MustParse("10.004")).Equal(MustParse("10.00")))
	assert.True(t, Round(MustParse("-0.125")).Equal(MustParse("-0.13")))
}

func TestCovers_WithinOneMinorUnit(t *testing.T) {
	total := MustParse("100.00")

	assert.True(t, Covers(MustParse("100.00"), total))
	assert.True(t, Covers(MustParse("99.99"), total))
	assert.True(t, Covers(MustParse("120.00"), total))
	assert.False(t, Covers(MustParse("99.98"), total))
}

func TestSumAndMin(t *testing.T) {
	assert.True(t, Sum(FromCents(150), FromCents(250)).Equal(MustParse("4.00")))
	assert.True(t, Sum().IsZero())
	assert.True(t, Min(FromCents(1), FromCents(2)).Equal(FromCents(1)))
}
