package speculative

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-eagle/internal/model"
)

var ErrNoDraftHead = errors.New("runtime has no draft head")

// Fused is the one-model variant: drafting runs on the runtime's draft head
// and verification on its full forward, so both share one set of weights.
// It satisfies Proposer and Verifier and plugs into the same Controller.
type Fused struct {
	*DraftProposer
	*TargetVerifier
}

func NewFused(rt model.Runtime) (*Fused, error) {
	head, ok := rt.(model.DraftHead)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNoDraftHead, rt)
	}
	if h, ok := rt.(interface{ HasDraftHead() bool }); ok && !h.HasDraftHead() {
		return nil, fmt.Errorf("%w: %T", ErrNoDraftHead, rt)
	}
	return &Fused{
		DraftProposer:  &DraftProposer{forward: head.DraftForward, vocab: rt.VocabSize()},
		TargetVerifier: NewTargetVerifier(rt),
	}, nil
}
