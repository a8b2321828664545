package speculative

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/23skdu/longbow-eagle/internal/logger"
	"github.com/23skdu/longbow-eagle/internal/metrics"
)

type state int

const (
	statePropose state = iota
	stateVerify
	stateResolve
	stateApply
	stateDone
)

func (s state) String() string {
	switch s {
	case statePropose:
		return "propose"
	case stateVerify:
		return "verify"
	case stateResolve:
		return "resolve"
	case stateApply:
		return "apply"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Controller drives one request through PROPOSE, VERIFY, RESOLVE and APPLY
// until a stop condition. A Controller is immutable after construction and
// may run many requests concurrently; each Run owns its Sequence.
type Controller struct {
	proposer    Proposer
	verifier    Verifier
	resolver    Resolver
	maxDraftLen int
	observer    StepObserver
}

type Option func(*Controller)

// WithObserver registers the per-step callback.
func WithObserver(o StepObserver) Option {
	return func(c *Controller) { c.observer = o }
}

// NewController builds a controller. A nil proposer or maxDraftLen of 0
// gives plain target-only decoding.
func NewController(p Proposer, v Verifier, maxDraftLen int, opts ...Option) (*Controller, error) {
	if v == nil {
		return nil, errors.New("speculative: verifier is required")
	}
	if maxDraftLen < 0 {
		return nil, fmt.Errorf("speculative: invalid max draft length %d", maxDraftLen)
	}
	c := &Controller{proposer: p, verifier: v, maxDraftLen: maxDraftLen}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) MaxDraftLen() int { return c.maxDraftLen }

// run is the mutable state of one request.
type run struct {
	id     string
	params Params
	seq    *Sequence
	rng    *rand.Rand
	log    *logger.Logger
	res    *Result

	draft    DraftBatch
	out      VerifierOutput
	accept   AcceptanceResult
	fallback bool
}

// Run generates up to params.MaxTokens tokens after prompt. The returned
// Result is always non-nil and holds the partial sequence on error.
// Cancellation of ctx is honoured before each PROPOSE; a step already past
// it runs to completion.
func (c *Controller) Run(ctx context.Context, requestID string, prompt []int, params Params) (*Result, error) {
	seq := NewSequence(requestID, prompt)
	r := &run{
		id:     requestID,
		params: params,
		seq:    seq,
		rng:    rand.New(rand.NewSource(params.Seed)), //nolint:gosec // seeded sampling
		log:    logger.Log.With("request", requestID),
		res:    &Result{Sequence: seq},
	}
	if len(prompt) == 0 {
		r.res.Reason = StopError
		return r.res, &GenerationError{RequestID: requestID, Err: errors.New("empty prompt")}
	}
	if params.MaxTokens <= 0 {
		r.res.Reason = StopLength
		return r.res, nil
	}

	st := statePropose
	for st != stateDone {
		var err error
		cur := st
		switch cur {
		case statePropose:
			if cerr := ctx.Err(); cerr != nil {
				r.res.Reason = StopCancelled
				r.log.Info("request cancelled", "generated", seq.NumGenerated(), "steps", r.res.Steps)
				return r.res, fmt.Errorf("%w: %w", ErrRequestCancelled, cerr)
			}
			c.propose(ctx, r)
			st = stateVerify
		case stateVerify:
			err = c.verify(context.WithoutCancel(ctx), r)
			st = stateResolve
		case stateResolve:
			err = c.resolve(r)
			st = stateApply
		case stateApply:
			if c.apply(r) {
				st = stateDone
			} else {
				st = statePropose
			}
		}
		if err != nil {
			r.res.Reason = StopError
			r.log.Error("generation failed", "state", cur.String(), "step", r.res.Steps+1, "error", err)
			return r.res, &GenerationError{RequestID: requestID, Step: r.res.Steps + 1, Err: err}
		}
	}

	metrics.RecordAcceptanceRate(r.res.Drafted, r.res.Accepted)
	r.log.Debug("request done", "reason", string(r.res.Reason), "generated", seq.NumGenerated(),
		"steps", r.res.Steps, "drafted", r.res.Drafted, "accepted", r.res.Accepted)
	return r.res, nil
}

func (c *Controller) draftLen(r *run) int {
	if c.proposer == nil {
		return 0
	}
	remaining := r.params.MaxTokens - r.seq.NumGenerated()
	return max(0, min(c.maxDraftLen, remaining-1))
}

func (c *Controller) propose(ctx context.Context, r *run) {
	r.draft = DraftBatch{}
	r.fallback = false

	k := c.draftLen(r)
	if k == 0 {
		return
	}

	start := time.Now()
	eos := r.params.EOS
	if r.params.IgnoreEOS {
		eos = -1
	}
	draft, err := c.proposer.Propose(ctx, ProposeRequest{
		SeqID:       r.id,
		Tokens:      r.seq.tokens,
		K:           k,
		Temperature: r.params.Temperature,
		EOS:         eos,
		Rand:        r.rng,
	})
	metrics.RecordPhase(statePropose.String(), time.Since(start))

	if err == nil && draft.Len() > k {
		err = fmt.Errorf("%w: %d tokens for k=%d", ErrProposerFailure, draft.Len(), k)
	}
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("draft proposer failed, decoding step at k=0", "step", r.res.Steps, "error", err)
		}
		metrics.RecordComponentFailure("proposer")
		metrics.RecordFallback("proposer")
		r.fallback = true
		return
	}
	r.draft = draft
}

func (c *Controller) verify(ctx context.Context, r *run) error {
	start := time.Now()
	out, err := c.verifier.Verify(ctx, r.verifyRequest())
	if err != nil {
		metrics.RecordComponentFailure("verifier")
		r.log.Warn("target verifier failed, retrying at k=0", "step", r.res.Steps, "drafted", r.draft.Len(), "error", err)

		r.draft = DraftBatch{}
		r.fallback = true
		metrics.RecordFallback("verifier")

		out, err = c.verifier.Verify(ctx, r.verifyRequest())
		if err != nil {
			metrics.RecordComponentFailure("verifier")
			if !errors.Is(err, ErrVerifierFailure) {
				err = fmt.Errorf("%w: %w", ErrVerifierFailure, err)
			}
			return err
		}
	}
	metrics.RecordPhase(stateVerify.String(), time.Since(start))
	r.out = out
	return nil
}

func (r *run) verifyRequest() VerifyRequest {
	return VerifyRequest{
		SeqID:       r.id,
		Tokens:      r.seq.tokens,
		Draft:       r.draft.Tokens,
		Temperature: r.params.Temperature,
	}
}

func (c *Controller) resolve(r *run) error {
	start := time.Now()
	res, err := c.resolver.Resolve(r.draft, r.out, r.params.Temperature, r.rng)
	metrics.RecordPhase(stateResolve.String(), time.Since(start))
	if err != nil {
		metrics.RecordComponentFailure("resolver")
		return err
	}
	if res.Accepted > c.maxDraftLen {
		metrics.RecordComponentFailure("resolver")
		return fmt.Errorf("%w: accepted %d exceeds max draft length %d", ErrAcceptanceInvariant, res.Accepted, c.maxDraftLen)
	}
	r.accept = res
	return nil
}

// apply appends the step's tokens and reports whether the request is done.
func (c *Controller) apply(r *run) bool {
	tokens, probs := r.accept.Emitted(r.draft)

	remaining := r.params.MaxTokens - r.seq.NumGenerated()
	if len(tokens) > remaining {
		tokens, probs = tokens[:remaining], probs[:remaining]
	}
	hitEOS := false
	for i, tok := range tokens {
		if r.params.stopsAt(tok) {
			tokens, probs = tokens[:i+1], probs[:i+1]
			hitEOS = true
			break
		}
	}

	for i, tok := range tokens {
		r.seq.append(tok, probs[i])
	}

	r.res.Steps++
	r.res.Drafted += r.accept.Drafted
	r.res.Accepted += r.accept.Accepted
	if r.fallback {
		r.res.Fallbacks++
	}
	metrics.RecordStep(r.accept.Drafted, r.accept.Accepted)

	ev := StepEvent{
		RequestID: r.id,
		Step:      r.res.Steps,
		Drafted:   r.accept.Drafted,
		Accepted:  r.accept.Accepted,
		Tokens:    tokens,
		Fallback:  r.fallback,
		Greedy:    r.accept.Greedy,
	}
	r.log.Debug("step applied", "step", ev.Step, "drafted", ev.Drafted, "accepted", ev.Accepted, "emitted", len(tokens))
	if c.observer != nil {
		c.observer.OnStep(ev)
	}

	switch {
	case hitEOS:
		r.res.Reason = StopEOS
	case r.seq.NumGenerated() >= r.params.MaxTokens:
		r.res.Reason = StopLength
	default:
		return false
	}
	return true
}
