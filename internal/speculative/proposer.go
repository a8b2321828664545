package speculative

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-eagle/internal/model"
)

// Proposer emits a short candidate continuation of Tokens.
type Proposer interface {
	Propose(ctx context.Context, req ProposeRequest) (DraftBatch, error)
}

type ProposeRequest struct {
	SeqID       string
	Tokens      []int
	K           int
	Temperature float64
	// EOS ends the draft early; negative disables it.
	EOS  int
	Rand *rand.Rand
}

type forwardFunc func(ctx context.Context, batch []model.Input) ([]model.Output, error)

// DraftProposer runs a small model autoregressively for K positions.
// It holds no per-request state.
type DraftProposer struct {
	forward forwardFunc
	vocab   int
}

func NewDraftProposer(draft model.Runtime) *DraftProposer {
	return &DraftProposer{forward: draft.Forward, vocab: draft.VocabSize()}
}

func (p *DraftProposer) Propose(ctx context.Context, req ProposeRequest) (DraftBatch, error) {
	var batch DraftBatch
	if req.K <= 0 {
		return batch, nil
	}
	if len(req.Tokens) == 0 {
		return batch, fmt.Errorf("%w: empty context", ErrProposerFailure)
	}

	cur := make([]int, len(req.Tokens), len(req.Tokens)+req.K)
	copy(cur, req.Tokens)

	for i := 0; i < req.K; i++ {
		out, err := p.forward(ctx, []model.Input{{SeqID: req.SeqID, Tokens: cur, From: len(cur) - 1}})
		if err != nil {
			return DraftBatch{}, fmt.Errorf("%w: position %d: %w", ErrProposerFailure, i, err)
		}
		if len(out) != 1 || len(out[0].Logits) != 1 || len(out[0].Logits[0]) != p.vocab {
			return DraftBatch{}, fmt.Errorf("%w: position %d: malformed draft output", ErrProposerFailure, i)
		}

		dist := Probabilities(out[0].Logits[0], req.Temperature)
		var tok int
		if req.Temperature <= 0 || req.Rand == nil {
			tok = Argmax(dist)
		} else {
			tok = sample(dist, req.Rand)
		}

		batch.Tokens = append(batch.Tokens, tok)
		batch.Probs = append(batch.Probs, dist[tok])
		batch.Dists = append(batch.Dists, dist)
		cur = append(cur, tok)

		if req.EOS >= 0 && tok == req.EOS {
			break
		}
	}
	return batch, nil
}
