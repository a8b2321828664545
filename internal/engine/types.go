package engine

import (
	"time"

	"github.com/23skdu/longbow-eagle/internal/kvcache"
	"github.com/23skdu/longbow-eagle/internal/speculative"
)

// Params are the sampling parameters of one request. A zero MaxTokens or
// Seed and a nil Temperature fall back to the engine configuration.
type Params struct {
	MaxTokens   int
	// Temperature 0 is greedy decoding regardless of the engine default.
	Temperature *float64
	Seed        int64
	IgnoreEOS   bool
}

// Temperature returns a request temperature for Params.
func Temperature(t float64) *float64 { return &t }

func (p Params) temperature() float64 {
	if p.Temperature == nil {
		return 0
	}
	return *p.Temperature
}

// Event is one decoding step as seen by a stream consumer.
type Event struct {
	RequestID string
	Step      int
	TokenIDs  []int
	Text      string
	Drafted   int
	Accepted  int
	Fallback  bool
}

// Output is the final result of a request.
type Output struct {
	RequestID string
	Prompt    string
	Text      string
	TokenIDs  []int
	Reason    speculative.StopReason
	Steps     int
	Drafted   int
	Accepted  int
	Fallbacks int
	Duration  time.Duration
	Err       error
}

func (o Output) AcceptanceRate() float64 {
	if o.Drafted == 0 {
		return 0
	}
	return float64(o.Accepted) / float64(o.Drafted)
}

// Observer receives every step and every finished request. Calls come from
// request goroutines and must not block.
type Observer interface {
	ObserveStep(ev speculative.StepEvent)
	ObserveFinish(out Output)
}

// Mode names how drafting is done.
type Mode string

const (
	ModeReference Mode = "reference"
	ModeTwoModel  Mode = "two-model"
	ModeOneModel  Mode = "one-model"
)

// Stats is a snapshot for status endpoints.
type Stats struct {
	Mode        Mode
	MaxDraftLen int
	InFlight    int64
	Completed   int64
	Failed      int64
	Cancelled   int64
	KVCache     kvcache.Stats
}
