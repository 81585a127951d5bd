package usecase

import "strings"

// accumulator combines the committed transcript with the currently
// evolving partial hypothesis. The recognition service occasionally
// regresses its best guess before re-stabilizing, so a shorter
// hypothesis is only accepted when it is final; everything else is
// dropped to keep the displayed text from shrinking mid-utterance.
type accumulator struct {
	committed string
	// carried preserves the active partial across attempt rotations so
	// a mid-utterance restart loses no text. It commits together with
	// the active partial.
	carried      string
	active       string
	lastAccepted string
}

// Apply runs the regression guard and reports whether the hypothesis
// was accepted as the new active partial.
func (a *accumulator) Apply(text string, isFinal bool) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" && !isFinal {
		return false
	}
	if !isFinal && len(trimmed) < len(a.lastAccepted) {
		return false
	}
	a.active = trimmed
	a.lastAccepted = trimmed
	return true
}

// Commit moves the carried and active partial text into the committed
// transcript and resets the guard.
func (a *accumulator) Commit() {
	a.committed = join(a.committed, a.carried, a.active)
	a.carried = ""
	a.active = ""
	a.lastAccepted = ""
}

// Rotate preserves the active partial across an attempt restart: the
// next attempt's hypotheses start from scratch, so the guard resets and
// new text appends after the carried portion.
func (a *accumulator) Rotate() {
	a.carried = join(a.carried, a.active)
	a.active = ""
	a.lastAccepted = ""
}

// HasPartial reports whether any uncommitted text is pending.
func (a *accumulator) HasPartial() bool {
	return a.carried != "" || a.active != ""
}

// Display composes the full transcript as it should be shown:
// committed text followed by the in-flight partial.
func (a *accumulator) Display() string {
	return join(a.committed, a.carried, a.active)
}

// Committed returns the finalized transcript.
func (a *accumulator) Committed() string {
	return a.committed
}

// Reset clears all state for a fresh session.
func (a *accumulator) Reset() {
	*a = accumulator{}
}

func join(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out == "" {
			out = p
			continue
		}
		out += " " + p
	}
	return out
}
