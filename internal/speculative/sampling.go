package speculative

import (
	"math"
	"math/rand"
)

const minProb = 1e-30

// Probabilities converts logits to a distribution at the given temperature.
// A temperature <= 0 yields the plain softmax; greedy callers only use its
// argmax.
func Probabilities(logits []float32, temperature float64) []float32 {
	probs := make([]float32, len(logits))
	if len(logits) == 0 {
		return probs
	}
	invT := 1.0
	if temperature > 0 {
		invT = 1.0 / temperature
	}

	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	sum := 0.0
	exps := make([]float64, len(logits))
	for i, l := range logits {
		e := math.Exp(float64(l-maxLogit) * invT)
		exps[i] = e
		sum += e
	}
	for i, e := range exps {
		probs[i] = float32(e / sum)
	}
	return probs
}

// Argmax returns the index of the largest probability, the lowest index on
// ties.
func Argmax(probs []float32) int {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best
}

// sample draws an index from a (not necessarily normalised) distribution.
func sample(probs []float32, rng *rand.Rand) int {
	var total float64
	for _, p := range probs {
		total += float64(p)
	}
	if total <= 0 {
		return Argmax(probs)
	}

	r := rng.Float64() * total
	var cum float64
	last := 0
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		cum += float64(p)
		last = i
		if r < cum {
			return i
		}
	}
	// rounding
	return last
}

// residual returns max(0, p - q) normalised, or nil when it has no mass.
func residual(p, q []float32) []float32 {
	out := make([]float32, len(p))
	var sum float64
	for i := range p {
		if d := p[i] - q[i]; d > 0 {
			out[i] = d
			sum += float64(d)
		}
	}
	if sum <= 0 {
		return nil
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
