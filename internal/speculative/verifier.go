package speculative

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-eagle/internal/model"
)

// Verifier scores a draft with the target model in one forward pass.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (VerifierOutput, error)
}

type VerifyRequest struct {
	SeqID       string
	Tokens      []int
	Draft       []int
	Temperature float64
}

type TargetVerifier struct {
	forward forwardFunc
	vocab   int
}

func NewTargetVerifier(target model.Runtime) *TargetVerifier {
	return &TargetVerifier{forward: target.Forward, vocab: target.VocabSize()}
}

// Verify returns len(Draft)+1 target distributions, the first predicting the
// token after Tokens.
func (v *TargetVerifier) Verify(ctx context.Context, req VerifyRequest) (VerifierOutput, error) {
	if len(req.Tokens) == 0 {
		return VerifierOutput{}, fmt.Errorf("%w: empty context", ErrVerifierFailure)
	}

	tokens := make([]int, 0, len(req.Tokens)+len(req.Draft))
	tokens = append(tokens, req.Tokens...)
	tokens = append(tokens, req.Draft...)

	out, err := v.forward(ctx, []model.Input{{SeqID: req.SeqID, Tokens: tokens, From: len(req.Tokens) - 1}})
	if err != nil {
		return VerifierOutput{}, fmt.Errorf("%w: %w", ErrVerifierFailure, err)
	}
	want := len(req.Draft) + 1
	if len(out) != 1 || len(out[0].Logits) != want {
		return VerifierOutput{}, fmt.Errorf("%w: expected %d rows", ErrVerifierFailure, want)
	}

	dists := make([][]float32, want)
	for i, row := range out[0].Logits {
		if len(row) != v.vocab {
			return VerifierOutput{}, fmt.Errorf("%w: row %d has %d logits, vocab is %d", ErrVerifierFailure, i, len(row), v.vocab)
		}
		dists[i] = Probabilities(row, req.Temperature)
	}
	return VerifierOutput{Dists: dists}, nil
}
