package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBLEU(t *testing.T) {
	ref := "The quick brown fox jumps over the lazy dog."
	assert.InDelta(t, 100.0, BLEU(ref, ref), 1e-9)
	assert.Equal(t, 0.0, BLEU("", ref))
	assert.Equal(t, 0.0, BLEU("completely unrelated words here", ref))

	partial := BLEU("The quick brown fox jumps over a dog.", ref)
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 100.0)

	// Shorter hypotheses are penalised even when every n-gram matches.
	short := BLEU("The quick brown fox jumps", ref)
	assert.Less(t, short, 100.0)
	assert.Greater(t, short, 0.0)
}

func TestF1(t *testing.T) {
	assert.InDelta(t, 1.0, F1("A b C", "c B a a"), 1e-9)
	assert.Equal(t, 0.0, F1("", "a"))
	assert.Equal(t, 0.0, F1("x y", "a b"))
	// hyp {a,b}, ref {a,c,d}: p=1/2, r=1/3
	assert.InDelta(t, 0.4, F1("a b", "a c d"), 1e-9)
}

func TestDistinct(t *testing.T) {
	assert.InDelta(t, 0.5, Distinct("a a b b", 1), 1e-9)
	assert.InDelta(t, 1.0, Distinct("a b c", 2), 1e-9)
	assert.InDelta(t, 2.0/3, Distinct("a a a a", 2)*2, 1e-9)
	assert.Equal(t, 0.0, Distinct("one", 2))
}

func TestMetrics(t *testing.T) {
	noRef := Metrics("a b a", "")
	assert.Nil(t, noRef.BLEU)
	assert.Nil(t, noRef.F1)
	assert.InDelta(t, 2.0/3, noRef.Distinct1, 1e-9)

	withRef := Metrics("a b a", "a b")
	require.NotNil(t, withRef.BLEU)
	require.NotNil(t, withRef.F1)
	assert.InDelta(t, 1.0, *withRef.F1, 1e-9)
}
