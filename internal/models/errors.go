package models

import "errors"

// Error taxonomy shared across the engine packages.
var (
	// ErrTransientProvider marks an LLM or vision call that failed or timed
	// out after its retry budget. It surfaces as a terminal "try again"
	// result for the turn, never as a silent fallback decision.
	ErrTransientProvider = errors.New("transient provider error")

	// ErrStaleReference marks a decision whose target scene no longer exists
	// in the storyboard. It is recoverable by the caller and is never
	// silently remapped to a guess.
	ErrStaleReference = errors.New("stale scene reference")

	// ErrNoFacts marks a vision extraction from which zero fields were
	// recoverable. Partial data never produces this: it is the explicit
	// "no facts" result, not a fabricated one.
	ErrNoFacts = errors.New("no image facts recoverable")
)
