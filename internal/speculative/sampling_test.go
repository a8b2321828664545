package speculative

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(p []float32) float64 {
	var s float64
	for _, v := range p {
		s += float64(v)
	}
	return s
}

func TestProbabilities(t *testing.T) {
	logits := []float32{1, 2, 3, 0.5}

	p := Probabilities(logits, 1)
	assert.InDelta(t, 1.0, sum(p), 1e-5)
	assert.Equal(t, 2, Argmax(p))

	// Non-positive temperature is the plain softmax
	assert.Equal(t, p, Probabilities(logits, 0))

	cold := Probabilities(logits, 0.25)
	hot := Probabilities(logits, 4)
	assert.Greater(t, cold[2], p[2])
	assert.Less(t, hot[2], p[2])
	assert.InDelta(t, 1.0, sum(cold), 1e-5)

	assert.Empty(t, Probabilities(nil, 1))
}

func TestProbabilities_LargeLogits(t *testing.T) {
	p := Probabilities([]float32{1000, 999, -1000}, 1)
	assert.InDelta(t, 1.0, sum(p), 1e-5)
	assert.Greater(t, p[0], p[1])
	assert.Zero(t, p[2])
}

func TestArgmax_TiesPickLowestIndex(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float32{0.1, 0.4, 0.4, 0.1}))
	assert.Equal(t, 0, Argmax([]float32{0.5}))
}

func TestSample(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	counts := make([]int, 3)
	for i := 0; i < 10000; i++ {
		counts[sample([]float32{0.25, 0, 0.75}, rng)]++
	}
	assert.Zero(t, counts[1])
	assert.InDelta(t, 0.25, float64(counts[0])/10000, 0.02)

	// Unnormalised weights are fine
	assert.Equal(t, 2, sample([]float32{0, 0, 3}, rng))
	// No mass falls back to argmax
	assert.Equal(t, 0, sample([]float32{0, 0}, rng))
}

func TestResidual(t *testing.T) {
	r := residual([]float32{0.2, 0.3, 0.5}, []float32{0.6, 0.3, 0.1})
	require.NotNil(t, r)
	assert.InDelta(t, 0, r[0], 1e-6)
	assert.InDelta(t, 0, r[1], 1e-6)
	assert.InDelta(t, 1, r[2], 1e-6)

	assert.Nil(t, residual([]float32{0.5, 0.5}, []float32{0.5, 0.5}))
}
