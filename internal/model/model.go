// Package model defines the forward-pass surface the speculative core consumes
// and a deterministic synthetic runtime that implements it.
package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrBadInput is returned when an Input asks for positions outside its tokens.
var ErrBadInput = errors.New("model: invalid forward input")

// Input is one sequence of a forward batch. Logits are produced for every
// position p in [From, len(Tokens)); row j predicts the token that follows
// Tokens[:From+j+1].
type Input struct {
	SeqID  string
	Tokens []int
	From   int
}

// Rows returns the number of logit rows the input asks for.
func (in Input) Rows() int {
	return len(in.Tokens) - in.From
}

func (in Input) validate() error {
	if len(in.Tokens) == 0 {
		return fmt.Errorf("%w: seq %q has no tokens", ErrBadInput, in.SeqID)
	}
	if in.From < 0 || in.From >= len(in.Tokens) {
		return fmt.Errorf("%w: seq %q from=%d len=%d", ErrBadInput, in.SeqID, in.From, len(in.Tokens))
	}
	return nil
}

type Output struct {
	Logits [][]float32
}

// Runtime runs forward passes. Implementations must be safe for concurrent
// use; weights are read-only during inference.
type Runtime interface {
	Forward(ctx context.Context, batch []Input) ([]Output, error)
	VocabSize() int
}

// DraftHead is implemented by runtimes that carry a draft head sharing the
// target's weights (one-model speculative decoding).
type DraftHead interface {
	DraftForward(ctx context.Context, batch []Input) ([]Output, error)
}
