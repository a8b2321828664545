package speculative

import (
	"math"
	"slices"
)

// Sequence is the token state of one request. Only the Controller appends to
// it; everything else reads.
type Sequence struct {
	ID         string
	tokens     []int
	promptLen  int
	logProbs   []float64
	cumLogProb float64
}

func NewSequence(id string, prompt []int) *Sequence {
	tokens := make([]int, len(prompt), len(prompt)+64)
	copy(tokens, prompt)
	return &Sequence{ID: id, tokens: tokens, promptLen: len(prompt)}
}

// Tokens returns a copy of prompt and generated ids.
func (s *Sequence) Tokens() []int     { return slices.Clone(s.tokens) }
func (s *Sequence) Prompt() []int     { return slices.Clone(s.tokens[:s.promptLen]) }
func (s *Sequence) Generated() []int  { return slices.Clone(s.tokens[s.promptLen:]) }
func (s *Sequence) NumGenerated() int { return len(s.tokens) - s.promptLen }
func (s *Sequence) Len() int          { return len(s.tokens) }

// LogProbs returns the target log-probability of every generated token.
func (s *Sequence) LogProbs() []float64 { return slices.Clone(s.logProbs) }

func (s *Sequence) CumulativeLogProb() float64 { return s.cumLogProb }

func (s *Sequence) LastToken() int {
	return s.tokens[len(s.tokens)-1]
}

func (s *Sequence) append(token int, prob float32) {
	lp := math.Log(max(float64(prob), minProb))
	s.tokens = append(s.tokens, token)
	s.logProbs = append(s.logProbs, lp)
	s.cumLogProb += lp
}

// DraftBatch is one proposal. Probs[i] is the proposer's probability of
// Tokens[i] and Dists[i] its full distribution at that position.
type DraftBatch struct {
	Tokens []int
	Probs  []float32
	Dists  [][]float32
}

func (d DraftBatch) Len() int { return len(d.Tokens) }

// VerifierOutput holds the target distributions for the first draft
// position through the position after the last draft token.
type VerifierOutput struct {
	Dists [][]float32
}

type AcceptanceResult struct {
	Accepted      int
	Drafted       int
	Next          int
	NextProb      float32
	AcceptedProbs []float32
	// Greedy is set when the step was decided by argmax only.
	Greedy bool
	// Bonus is set when every draft token was accepted and Next came from
	// the extra target row.
	Bonus bool
}

// Emitted returns the accepted draft prefix followed by Next.
func (r AcceptanceResult) Emitted(draft DraftBatch) ([]int, []float32) {
	tokens := make([]int, 0, r.Accepted+1)
	tokens = append(tokens, draft.Tokens[:r.Accepted]...)
	tokens = append(tokens, r.Next)
	probs := make([]float32, 0, r.Accepted+1)
	probs = append(probs, r.AcceptedProbs...)
	probs = append(probs, r.NextProb)
	return tokens, probs
}

type StopReason string

const (
	StopEOS       StopReason = "eos"
	StopLength    StopReason = "length"
	StopCancelled StopReason = "cancelled"
	StopError     StopReason = "error"
)

// StepEvent is emitted after every applied step.
type StepEvent struct {
	RequestID string
	Step      int
	Drafted   int
	Accepted  int
	Tokens    []int
	Fallback  bool
	Greedy    bool
}

// StepObserver receives step events synchronously from the controller
// goroutine. Implementations must not block.
type StepObserver interface {
	OnStep(ev StepEvent)
}

// StepObserverFunc adapts a function to StepObserver.
type StepObserverFunc func(ev StepEvent)

func (f StepObserverFunc) OnStep(ev StepEvent) { f(ev) }

// Params are the per-request sampling parameters.
type Params struct {
	MaxTokens   int
	Temperature float64
	Seed        int64
	// EOS is the end-of-sequence id; negative disables it.
	EOS       int
	IgnoreEOS bool
}

func (p Params) stopsAt(token int) bool {
	return !p.IgnoreEOS && p.EOS >= 0 && token == p.EOS
}

// Result is the final state of a request. It is returned for cancelled and
// failed requests too, holding the partial sequence.
type Result struct {
	Sequence  *Sequence
	Reason    StopReason
	Steps     int
	Drafted   int
	Accepted  int
	Fallbacks int
}

// AcceptanceRate is accepted/drafted over the request.
func (r *Result) AcceptanceRate() float64 {
	if r.Drafted == 0 {
		return 0
	}
	return float64(r.Accepted) / float64(r.Drafted)
}
