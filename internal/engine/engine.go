// Package engine serves generation requests on top of the speculative
// controller: it admits requests, tracks their KV blocks, streams step
// events and fans results out to observers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-eagle/internal/config"
	"github.com/23skdu/longbow-eagle/internal/kvcache"
	"github.com/23skdu/longbow-eagle/internal/logger"
	"github.com/23skdu/longbow-eagle/internal/metrics"
	"github.com/23skdu/longbow-eagle/internal/model"
	"github.com/23skdu/longbow-eagle/internal/speculative"
	"github.com/23skdu/longbow-eagle/internal/tokenizer"
)

var (
	ErrClosed      = errors.New("engine: closed")
	ErrEmptyPrompt = errors.New("engine: empty prompt")
	ErrTooLong     = errors.New("engine: prompt plus max_tokens exceeds max_seq_len")
)

type Engine struct {
	cfg  config.Config
	mode Mode
	tok  *tokenizer.Tokenizer

	proposer speculative.Proposer
	verifier speculative.Verifier
	cache    *kvcache.PagedManager
	sem      *semaphore.Weighted

	observers []Observer

	// mu orders wg.Add in start against Close.
	mu     sync.RWMutex
	wg     sync.WaitGroup
	closed bool

	inFlight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

type Option func(*Engine)

// WithObserver adds an observer for steps and finished requests.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// New builds an engine. draft is only used in two-model mode and may be nil
// otherwise; one-model mode requires target to carry a draft head.
func New(cfg config.Config, target, draft model.Runtime, tok *tokenizer.Tokenizer, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if target == nil {
		return nil, errors.New("engine: target runtime is required")
	}
	if tok == nil {
		return nil, errors.New("engine: tokenizer is required")
	}
	if target.VocabSize() != tok.VocabSize() {
		return nil, fmt.Errorf("engine: target vocab %d does not match tokenizer vocab %d", target.VocabSize(), tok.VocabSize())
	}

	e := &Engine{
		cfg:      cfg,
		tok:      tok,
		verifier: speculative.NewTargetVerifier(target),
		sem:      semaphore.NewWeighted(int64(cfg.MaxBatchSize)),
	}

	switch {
	case !cfg.Speculative():
		e.mode = ModeReference
	case cfg.OneModel:
		fused, err := speculative.NewFused(target)
		if err != nil {
			return nil, fmt.Errorf("one-model mode: %w", err)
		}
		e.mode = ModeOneModel
		e.proposer, e.verifier = fused, fused
	default:
		if draft == nil {
			return nil, errors.New("engine: draft runtime is required for two-model speculative decoding")
		}
		if draft.VocabSize() != target.VocabSize() {
			return nil, fmt.Errorf("engine: draft vocab %d does not match target vocab %d", draft.VocabSize(), target.VocabSize())
		}
		e.mode = ModeTwoModel
		e.proposer = speculative.NewDraftProposer(draft)
	}

	cache, err := kvcache.NewPagedManager(cfg.KVCacheBlocks, cfg.KVBlockSize, cfg.EnableBlockReuse)
	if err != nil {
		return nil, fmt.Errorf("kv cache: %w", err)
	}
	e.cache = cache

	for _, opt := range opts {
		opt(e)
	}

	logger.Log.Info("Engine ready", "mode", string(e.mode), "max_draft_len", cfg.MaxDraftLen,
		"max_batch_size", cfg.MaxBatchSize, "block_reuse", cfg.EnableBlockReuse)
	return e, nil
}

func (e *Engine) Mode() Mode { return e.mode }
func (e *Engine) Tokenizer() *tokenizer.Tokenizer { return e.tok }
func (e *Engine) Config() config.Config { return e.cfg }
func (e *Engine) CacheStats() kvcache.Stats { return e.cache.Stats() }

func (e *Engine) Stats() Stats {
	return Stats{
		Mode:        e.mode,
		MaxDraftLen: e.cfg.MaxDraftLen,
		InFlight:    e.inFlight.Load(),
		Completed:   e.completed.Load(),
		Failed:      e.failed.Load(),
		Cancelled:   e.cancelled.Load(),
		KVCache:     e.cache.Stats(),
	}
}

// Generate encodes prompt and starts generating. The request runs on its own
// goroutine; consume the stream or Wait on it.
func (e *Engine) Generate(ctx context.Context, prompt string, params Params) (*Stream, error) {
	return e.start(ctx, prompt, e.tok.Encode(prompt), params)
}

// GenerateTokens is Generate for an already tokenised prompt.
func (e *Engine) GenerateTokens(ctx context.Context, prompt []int, params Params) (*Stream, error) {
	return e.start(ctx, "", prompt, params)
}

// GenerateBatch runs every prompt concurrently, bounded by max_batch_size,
// and returns outputs in prompt order. A failing request does not stop the
// others; the first error is returned.
func (e *Engine) GenerateBatch(ctx context.Context, prompts []string, params Params) ([]Output, error) {
	outs := make([]Output, len(prompts))
	var g errgroup.Group
	for i, prompt := range prompts {
		g.Go(func() error {
			s, err := e.Generate(ctx, prompt, params)
			if err != nil {
				outs[i] = Output{Prompt: prompt, Err: err}
				return err
			}
			out, err := s.Wait()
			outs[i] = out
			return err
		})
	}
	err := g.Wait()
	return outs, err
}

// Close rejects new requests and waits for running ones.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) resolve(params Params) speculative.Params {
	p := speculative.Params{
		MaxTokens:   params.MaxTokens,
		Temperature: e.cfg.Temperature,
		Seed:        params.Seed,
		EOS:         e.tok.EosID(),
		IgnoreEOS:   params.IgnoreEOS,
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = e.cfg.MaxTokens
	}
	if params.Temperature != nil {
		p.Temperature = *params.Temperature
	}
	if p.Seed == 0 {
		p.Seed = e.cfg.Seed
	}
	return p
}

func (e *Engine) start(ctx context.Context, text string, prompt []int, params Params) (*Stream, error) {
	if len(prompt) == 0 {
		metrics.RecordValidationError("generate", "empty_prompt")
		return nil, ErrEmptyPrompt
	}
	if params.MaxTokens < 0 || (params.Temperature != nil && *params.Temperature < 0) {
		metrics.RecordValidationError("generate", "invalid_params")
		return nil, fmt.Errorf("engine: invalid params max_tokens=%d temperature=%g", params.MaxTokens, params.temperature())
	}

	sp := e.resolve(params)
	if len(prompt)+sp.MaxTokens > e.cfg.MaxSeqLen {
		metrics.RecordValidationError("generate", "too_long")
		return nil, fmt.Errorf("%w: %d prompt tokens + %d > %d", ErrTooLong, len(prompt), sp.MaxTokens, e.cfg.MaxSeqLen)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	s := newStream(uuid.NewString(), sp.MaxTokens)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, s, text, prompt, sp)
	}()
	return s, nil
}

func (e *Engine) run(ctx context.Context, s *Stream, text string, prompt []int, sp speculative.Params) {
	start := time.Now()
	out := e.execute(ctx, s, text, prompt, sp)
	e.finish(s, out, start)
}

// execute runs the request to completion. Admission, in-flight accounting
// and KV blocks are released before it returns.
func (e *Engine) execute(ctx context.Context, s *Stream, text string, prompt []int, sp speculative.Params) Output {
	log := logger.Log.With("request", s.ID)
	out := Output{RequestID: s.ID, Prompt: text}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		out.Reason = speculative.StopCancelled
		out.Err = fmt.Errorf("%w: %w", speculative.ErrRequestCancelled, err)
		e.cancelled.Add(1)
		return out
	}
	defer e.sem.Release(1)

	e.inFlight.Add(1)
	metrics.RequestsInFlight.Inc()
	defer func() {
		e.inFlight.Add(-1)
		metrics.RequestsInFlight.Dec()
	}()

	if reused, err := e.cache.Allocate(s.ID, prompt); err != nil {
		log.Warn("kv cache allocation failed", "prompt_tokens", len(prompt), "error", err)
	} else if reused > 0 {
		log.Debug("prompt blocks reused", "tokens", reused)
	}
	defer e.cache.Release(s.ID)

	ctrl, err := speculative.NewController(e.proposer, e.verifier, e.cfg.MaxDraftLen,
		speculative.WithObserver(speculative.StepObserverFunc(func(ev speculative.StepEvent) {
			e.onStep(s, ev)
		})))
	if err != nil {
		out.Reason = speculative.StopError
		out.Err = err
		e.failed.Add(1)
		return out
	}

	log.Debug("request admitted", "prompt_tokens", len(prompt), "max_tokens", sp.MaxTokens, "mode", string(e.mode))
	res, err := ctrl.Run(ctx, s.ID, prompt, sp)

	out.TokenIDs = res.Sequence.Generated()
	out.Text = e.tok.Decode(out.TokenIDs)
	out.Reason = res.Reason
	out.Steps = res.Steps
	out.Drafted = res.Drafted
	out.Accepted = res.Accepted
	out.Fallbacks = res.Fallbacks
	out.Err = err

	switch {
	case err == nil:
		e.completed.Add(1)
	case errors.Is(err, speculative.ErrRequestCancelled):
		e.cancelled.Add(1)
	default:
		e.failed.Add(1)
	}
	return out
}

func (e *Engine) onStep(s *Stream, ev speculative.StepEvent) {
	if err := e.cache.Extend(s.ID, ev.Tokens); err != nil && !errors.Is(err, kvcache.ErrUnknownSequence) {
		logger.Log.Warn("kv cache extend failed", "request", s.ID, "error", err)
	}

	if !s.push(Event{
		RequestID: ev.RequestID,
		Step:      ev.Step,
		TokenIDs:  ev.Tokens,
		Text:      e.tok.Decode(ev.Tokens),
		Drafted:   ev.Drafted,
		Accepted:  ev.Accepted,
		Fallback:  ev.Fallback,
	}) {
		logger.Log.Warn("stream buffer full, dropping step event", "request", s.ID, "step", ev.Step)
	}

	for _, o := range e.observers {
		o.ObserveStep(ev)
	}
}

func (e *Engine) finish(s *Stream, out Output, start time.Time) {
	out.Duration = time.Since(start)
	metrics.RecordInference(len(out.TokenIDs), out.Duration, string(out.Reason))
	for _, o := range e.observers {
		o.ObserveFinish(out)
	}
	logger.Log.Info("request finished", "request", out.RequestID, "reason", string(out.Reason),
		"tokens", len(out.TokenIDs), "steps", out.Steps, "acceptance", out.AcceptanceRate(),
		"duration_ms", out.Duration.Milliseconds())
	s.finish(out, out.Err)
}
