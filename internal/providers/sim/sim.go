// Package sim provides a scripted recognizer backend. It stands in for
// the cloud service in demos and local development, and exercises the
// same attempt lifecycle a real backend does: evolving partials, a
// stabilized final, pause-driven no-speech outcomes.
package sim

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"everscribe/internal/domain"
	"everscribe/internal/ports"
)

// Script is one attempt's worth of canned recognition output.
type Script struct {
	// Utterance is revealed word by word as partials, then committed
	// as a final hypothesis with per-word segment timing.
	Utterance string
	// WordDelay spaces out the partial callbacks.
	WordDelay time.Duration
	// WordDuration is the synthetic duration of each spoken word.
	WordDuration float64
	// Fail, when set, terminates the attempt with this error instead
	// of a final hypothesis.
	Fail error
}

// Recognizer implements ports.Recognizer with scripted attempts.
// Attempts beyond the script list end with a no-speech outcome.
type Recognizer struct {
	log zerolog.Logger

	mu      sync.Mutex
	scripts []Script
	started int

	permission domain.PermissionStatus
}

func NewRecognizer(scripts []Script, log zerolog.Logger) *Recognizer {
	return &Recognizer{
		log:        log,
		scripts:    scripts,
		permission: domain.PermissionGranted,
	}
}

// DenyPermission makes subsequent permission requests fail.
func (r *Recognizer) DenyPermission() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = domain.PermissionDenied
}

func (r *Recognizer) RequestPermission(_ context.Context) (domain.PermissionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission, nil
}

func (r *Recognizer) BeginAttempt(ctx context.Context, _ ports.AttemptConfig) (ports.RecognitionAttempt, error) {
	r.mu.Lock()
	var script Script
	if r.started < len(r.scripts) {
		script = r.scripts[r.started]
	}
	r.started++
	index := r.started
	r.mu.Unlock()

	if script.WordDelay <= 0 {
		script.WordDelay = 150 * time.Millisecond
	}
	if script.WordDuration <= 0 {
		script.WordDuration = 0.4
	}

	a := &attempt{
		hyps:   make(chan domain.Hypothesis, 16),
		halt:   make(chan struct{}),
		done:   make(chan struct{}),
		script: script,
	}
	r.log.Debug().Int("attempt", index).Msg("sim attempt started")
	go a.run(ctx)
	return a, nil
}

type attempt struct {
	hyps   chan domain.Hypothesis
	halt   chan struct{}
	done   chan struct{}
	script Script

	haltOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func (a *attempt) run(ctx context.Context) {
	defer close(a.done)
	defer close(a.hyps)

	if a.script.Fail != nil {
		a.setErr(a.script.Fail)
		return
	}

	words := strings.Fields(a.script.Utterance)
	if len(words) == 0 {
		a.setErr(domain.ErrNoSpeech)
		return
	}

	var segments []domain.RawSegment
	for i, word := range words {
		start := float64(i) * a.script.WordDuration
		segments = append(segments, domain.RawSegment{
			Text:       word,
			Start:      start,
			End:        start + a.script.WordDuration,
			Confidence: 0.9,
		})

		hyp := domain.Hypothesis{
			Text:     strings.Join(words[:i+1], " "),
			IsFinal:  i == len(words)-1,
			Segments: append([]domain.RawSegment(nil), segments...),
		}

		select {
		case <-time.After(a.script.WordDelay):
		case <-a.halt:
			a.setErr(domain.ErrAttemptCancelled)
			return
		case <-ctx.Done():
			a.setErr(domain.ErrAttemptCancelled)
			return
		}

		select {
		case a.hyps <- hyp:
		case <-a.halt:
			a.setErr(domain.ErrAttemptCancelled)
			return
		case <-ctx.Done():
			a.setErr(domain.ErrAttemptCancelled)
			return
		}
	}
}

func (a *attempt) SendAudio(_ []byte) error { return nil }

func (a *attempt) Hypotheses() <-chan domain.Hypothesis { return a.hyps }

func (a *attempt) Finish() error {
	a.haltOnce.Do(func() { close(a.halt) })
	return nil
}

func (a *attempt) Cancel() error {
	a.haltOnce.Do(func() { close(a.halt) })
	<-a.done
	return nil
}

func (a *attempt) Wait() error {
	<-a.done
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

func (a *attempt) setErr(err error) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.err == nil {
		a.err = err
	}
}
