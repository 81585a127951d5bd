package vad

import "time"

// Signal is the detector's verdict for one loudness sample.
type Signal struct {
	// Silent fires once per silence episode, on the sample where the
	// continuously-measured silence first reaches the configured
	// duration. Callers treat it as a commit signal, not a level poll.
	Silent         bool
	SilenceElapsed time.Duration
}

// Detector converts normalized loudness samples into an edge-triggered
// silence signal with hysteresis. It performs no I/O; time is passed in
// by the caller.
type Detector struct {
	threshold float64
	duration  time.Duration

	silenceStart time.Time
	inSilence    bool
	fired        bool
}

// NewDetector returns a detector that signals silence once level has
// stayed at or below threshold for the given duration.
func NewDetector(threshold float64, duration time.Duration) *Detector {
	return &Detector{threshold: threshold, duration: duration}
}

// Observe feeds one normalized 0..1 loudness sample.
func (d *Detector) Observe(level float64, now time.Time) Signal {
	if level > d.threshold {
		d.inSilence = false
		d.fired = false
		return Signal{}
	}

	if !d.inSilence {
		d.inSilence = true
		d.silenceStart = now
	}

	elapsed := now.Sub(d.silenceStart)
	if elapsed >= d.duration && !d.fired {
		d.fired = true
		return Signal{Silent: true, SilenceElapsed: elapsed}
	}
	return Signal{SilenceElapsed: elapsed}
}

// Reset clears the silence timer, e.g. between recognition attempts.
func (d *Detector) Reset() {
	d.inSilence = false
	d.fired = false
}
