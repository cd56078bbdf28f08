// Package mode implements the Mode Controller: the sole writer of
// application mode. It validates transitions, enforces session-scoped
// requests, dedups retried requests, and defers SLEEPING while
// session-scoped work is still outstanding (I3).
package mode

import "github.com/rbright/sottod/internal/state"

// transitionKind distinguishes the spec's "automatic" (normal flow) from
// "manual" (override) transitions. Both are legal; the distinction is
// informational only — callers don't need it to decide validity.
type transitionKind int

const (
	automatic transitionKind = iota
	manual
)

type edge struct {
	from, to state.Mode
	kind      transitionKind
}

// allowedEdges is the complete legal-transition table from spec.md §3/§4.3.
var allowedEdges = []edge{
	{state.ModeSleeping, state.ModeListening, automatic},
	{state.ModeListening, state.ModeProcessing, automatic},
	{state.ModeProcessing, state.ModeSleeping, automatic},
	{state.ModeSleeping, state.ModeProcessing, manual},
	{state.ModeProcessing, state.ModeListening, manual},
	{state.ModeListening, state.ModeSleeping, manual},
}

// transitionAllowed reports whether (from, to) appears in the allowed set.
func transitionAllowed(from, to state.Mode) bool {
	if from == to {
		return true
	}
	for _, e := range allowedEdges {
		if e.from == from && e.to == to {
			return true
		}
	}
	return false
}

// coerceMode validates a raw target string into a Mode, rejecting unknowns.
func coerceMode(raw string) (state.Mode, bool) {
	switch state.Mode(raw) {
	case state.ModeSleeping, state.ModeListening, state.ModeProcessing:
		return state.Mode(raw), true
	default:
		return "", false
	}
}
