package model

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	// logit spread of the pseudo-random vocabulary scores
	logitScale = 4.0
	// added to the draft's favourite token when its context is "noisy";
	// larger than logitScale so the noisy token always wins
	noiseBump = 8.0
	// logit given to suppressed ids
	suppressedLogit = -30.0
)

// Synthetic is a deterministic language model: the logits at a position are a
// pure function of the seed and the last Window tokens. Two Synthetic models
// with the same seed and window agree everywhere; Noise makes a model prefer a
// different token in that fraction of contexts, which is how a draft model
// with a controllable acceptance rate is built.
type Synthetic struct {
	vocab      int
	window     int
	seed       uint64
	noise      float64
	noiseSeed  uint64
	headNoise  float64
	hasHead    bool
	suppressed []bool

	calls      atomic.Int64
	draftCalls atomic.Int64
}

type SyntheticOption func(*Synthetic)

func WithSeed(seed uint64) SyntheticOption {
	return func(s *Synthetic) { s.seed = seed }
}

func WithWindow(n int) SyntheticOption {
	return func(s *Synthetic) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithNoise makes the model disagree with its noiseless twin in roughly
// fraction p of contexts.
func WithNoise(p float64, seed uint64) SyntheticOption {
	return func(s *Synthetic) {
		s.noise = p
		s.noiseSeed = seed
	}
}

// WithDraftHead attaches a draft head that shares this model's weights and
// disagrees with it in fraction p of contexts.
func WithDraftHead(p float64, seed uint64) SyntheticOption {
	return func(s *Synthetic) {
		s.hasHead = true
		s.headNoise = p
		s.noiseSeed = seed
	}
}

// WithSuppressed pins the given ids to a very low logit (BOS, UNK, padding).
func WithSuppressed(ids ...int) SyntheticOption {
	return func(s *Synthetic) {
		for _, id := range ids {
			if id >= 0 && id < len(s.suppressed) {
				s.suppressed[id] = true
			}
		}
	}
}

func NewSynthetic(vocab int, opts ...SyntheticOption) *Synthetic {
	s := &Synthetic{
		vocab:      vocab,
		window:     4,
		suppressed: make([]bool, vocab),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synthetic) VocabSize() int { return s.vocab }

// Calls returns how many target forward batches have been served.
func (s *Synthetic) Calls() int64 { return s.calls.Load() }

// DraftCalls returns how many draft-head batches have been served.
func (s *Synthetic) DraftCalls() int64 { return s.draftCalls.Load() }

// HasDraftHead reports whether DraftForward is usable.
func (s *Synthetic) HasDraftHead() bool { return s.hasHead }

func (s *Synthetic) Forward(ctx context.Context, batch []Input) ([]Output, error) {
	s.calls.Add(1)
	return s.run(ctx, batch, s.noise)
}

func (s *Synthetic) DraftForward(ctx context.Context, batch []Input) ([]Output, error) {
	if !s.hasHead {
		return nil, ErrBadInput
	}
	s.draftCalls.Add(1)
	return s.run(ctx, batch, s.headNoise)
}

func (s *Synthetic) run(ctx context.Context, batch []Input, noise float64) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Output, len(batch))
	for i, in := range batch {
		if err := in.validate(); err != nil {
			return nil, err
		}
		rows := make([][]float32, 0, in.Rows())
		for p := in.From; p < len(in.Tokens); p++ {
			rows = append(rows, s.logitsAt(in.Tokens[:p+1], noise))
		}
		out[i] = Output{Logits: rows}
	}
	return out, nil
}

func (s *Synthetic) logitsAt(prefix []int, noise float64) []float32 {
	start := max(0, len(prefix)-s.window)
	base := contextHash(s.seed, prefix[start:])

	logits := make([]float32, s.vocab)
	for v := range logits {
		logits[v] = float32(unit(mix(base^(uint64(v)+1)*0x9e3779b97f4a7c15)) * logitScale)
	}

	if noise > 0 {
		nh := mix(base ^ s.noiseSeed)
		if unit(nh) < noise {
			logits[mix(nh)%uint64(s.vocab)] += noiseBump
		}
	}

	for v, off := range s.suppressed {
		if off {
			logits[v] = suppressedLogit
		}
	}
	return logits
}

func contextHash(seed uint64, tokens []int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	_, _ = d.Write(buf[:])
	for _, t := range tokens {
		binary.LittleEndian.PutUint64(buf[:], uint64(t))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// mix is the splitmix64 finaliser.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func unit(x uint64) float64 {
	return float64(x>>11) / float64(uint64(1)<<53)
}
