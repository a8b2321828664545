package speculative

import (
	"fmt"
	"math/rand"
)

// Resolver applies the speculative-sampling acceptance rule. It has no
// state; Resolve depends only on its arguments and the caller's random
// source, so one Resolver may serve any number of requests concurrently.
type Resolver struct{}

// Resolve decides how much of draft the target accepts and which token
// follows the accepted prefix.
//
// With temperature > 0, token t_i is kept with probability
// min(1, p(t_i)/q(t_i)); the first rejection resamples from
// norm(max(0, p-q)) and, when every token is kept, a bonus token is drawn
// from the extra target row. With temperature <= 0 a token is kept iff it
// is the target argmax, and the target argmax replaces the first mismatch.
func (Resolver) Resolve(draft DraftBatch, out VerifierOutput, temperature float64, rng *rand.Rand) (AcceptanceResult, error) {
	k := draft.Len()
	if len(out.Dists) != k+1 {
		return AcceptanceResult{}, fmt.Errorf("%w: %d target rows for %d draft tokens", ErrAcceptanceInvariant, len(out.Dists), k)
	}
	vocab := len(out.Dists[k])
	for i, row := range out.Dists {
		if len(row) != vocab || vocab == 0 {
			return AcceptanceResult{}, fmt.Errorf("%w: target row %d has %d entries", ErrAcceptanceInvariant, i, len(row))
		}
	}
	for _, tok := range draft.Tokens {
		if tok < 0 || tok >= vocab {
			return AcceptanceResult{}, fmt.Errorf("%w: draft token %d out of vocab %d", ErrAcceptanceInvariant, tok, vocab)
		}
	}

	var (
		res AcceptanceResult
		err error
	)
	if temperature <= 0 || rng == nil {
		res = resolveGreedy(draft, out)
	} else {
		res, err = resolveStochastic(draft, out, rng)
		if err != nil {
			return AcceptanceResult{}, err
		}
	}
	res.Drafted = k

	if res.Accepted < 0 || res.Accepted > k || len(res.AcceptedProbs) != res.Accepted {
		return AcceptanceResult{}, fmt.Errorf("%w: accepted %d of %d", ErrAcceptanceInvariant, res.Accepted, k)
	}
	return res, nil
}

func resolveGreedy(draft DraftBatch, out VerifierOutput) AcceptanceResult {
	res := AcceptanceResult{Greedy: true}
	for i, tok := range draft.Tokens {
		p := out.Dists[i]
		best := Argmax(p)
		if tok != best {
			res.Next = best
			res.NextProb = p[best]
			return res
		}
		res.Accepted++
		res.AcceptedProbs = append(res.AcceptedProbs, p[tok])
	}
	last := out.Dists[draft.Len()]
	res.Next = Argmax(last)
	res.NextProb = last[res.Next]
	res.Bonus = true
	return res
}

func resolveStochastic(draft DraftBatch, out VerifierOutput, rng *rand.Rand) (AcceptanceResult, error) {
	k := draft.Len()
	if len(draft.Probs) != k || len(draft.Dists) != k {
		return AcceptanceResult{}, fmt.Errorf("%w: draft carries %d probs and %d dists for %d tokens",
			ErrAcceptanceInvariant, len(draft.Probs), len(draft.Dists), k)
	}

	var res AcceptanceResult
	for i, tok := range draft.Tokens {
		p := out.Dists[i]
		q := draft.Probs[i]
		if q < 0 || p[tok] < 0 {
			return AcceptanceResult{}, fmt.Errorf("%w: negative probability at position %d", ErrAcceptanceInvariant, i)
		}

		ratio := 1.0
		if q > 0 {
			ratio = min(1.0, float64(p[tok])/float64(q))
		}
		if rng.Float64() < ratio {
			res.Accepted++
			res.AcceptedProbs = append(res.AcceptedProbs, p[tok])
			continue
		}

		if len(draft.Dists[i]) != len(p) {
			return AcceptanceResult{}, fmt.Errorf("%w: draft row %d has %d entries, target %d",
				ErrAcceptanceInvariant, i, len(draft.Dists[i]), len(p))
		}
		dist := residual(p, draft.Dists[i])
		if dist == nil {
			// p == q up to rounding: the residual has no mass
			dist = p
		}
		res.Next = sample(dist, rng)
		res.NextProb = p[res.Next]
		return res, nil
	}

	last := out.Dists[k]
	res.Next = sample(last, rng)
	res.NextProb = last[res.Next]
	res.Bonus = true
	return res, nil
}
