package speculative

import (
	"errors"
	"fmt"
)

var (
	// ErrProposerFailure is recovered inside a step by decoding it at k=0.
	ErrProposerFailure = errors.New("draft proposer failure")
	// ErrVerifierFailure is fatal once the k=0 retry has also failed.
	ErrVerifierFailure = errors.New("target verifier failure")
	// ErrAcceptanceInvariant signals an inconsistent draft/verifier pairing
	// or a resolver bug. Never user-recoverable.
	ErrAcceptanceInvariant = errors.New("acceptance invariant violation")
	ErrRequestCancelled    = errors.New("request cancelled")
	ErrGenerationFailed    = errors.New("generation failed")
)

// GenerationError terminates a request. It matches both ErrGenerationFailed
// and its cause under errors.Is.
type GenerationError struct {
	RequestID string
	Step      int
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("request %s: step %d: generation failed: %v", e.RequestID, e.Step, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}
