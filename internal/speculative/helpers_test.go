package speculative

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-eagle/internal/model"
)

const (
	testVocab = 64
	testSeed  = 7
)

var errInjected = errors.New("injected failure")

func newTarget() *model.Synthetic {
	return model.NewSynthetic(testVocab, model.WithSeed(testSeed))
}

func newDraft(noise float64) *model.Synthetic {
	return model.NewSynthetic(testVocab, model.WithSeed(testSeed), model.WithNoise(noise, 99))
}

// referenceDecode is plain greedy decoding, one forward call per token.
func referenceDecode(t *testing.T, rt model.Runtime, prompt []int, maxTokens, eos int) []int {
	t.Helper()
	tokens := append([]int(nil), prompt...)
	var out []int
	for len(out) < maxTokens {
		res, err := rt.Forward(context.Background(), []model.Input{{Tokens: tokens, From: len(tokens) - 1}})
		require.NoError(t, err)
		next := Argmax(Probabilities(res[0].Logits[0], 0))
		out = append(out, next)
		tokens = append(tokens, next)
		if eos >= 0 && next == eos {
			break
		}
	}
	return out
}

func greedyParams(maxTokens int) Params {
	return Params{MaxTokens: maxTokens, EOS: -1}
}

type recorder struct {
	mu     sync.Mutex
	events []StepEvent
}

func (r *recorder) OnStep(ev StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []StepEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepEvent(nil), r.events...)
}

// flakyProposer fails every call whose index satisfies failOn.
type flakyProposer struct {
	inner  Proposer
	calls  atomic.Int64
	failOn func(call int64) bool
}

func (p *flakyProposer) Propose(ctx context.Context, req ProposeRequest) (DraftBatch, error) {
	n := p.calls.Add(1)
	if p.failOn(n) {
		return DraftBatch{}, errInjected
	}
	return p.inner.Propose(ctx, req)
}

// flakyVerifier fails every call whose index satisfies failOn.
type flakyVerifier struct {
	inner  Verifier
	calls  atomic.Int64
	failOn func(call int64) bool
	ctxErr []error
}

func (v *flakyVerifier) Verify(ctx context.Context, req VerifyRequest) (VerifierOutput, error) {
	n := v.calls.Add(1)
	v.ctxErr = append(v.ctxErr, ctx.Err())
	if v.failOn(n) {
		return VerifierOutput{}, errInjected
	}
	return v.inner.Verify(ctx, req)
}

// cancellingProposer cancels the request while drafting.
type cancellingProposer struct {
	inner  Proposer
	cancel context.CancelFunc
}

func (p *cancellingProposer) Propose(ctx context.Context, req ProposeRequest) (DraftBatch, error) {
	p.cancel()
	return p.inner.Propose(ctx, req)
}
