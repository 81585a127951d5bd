package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"everscribe/internal/audio"
	"everscribe/internal/domain"
	"everscribe/internal/ports"
	"everscribe/internal/timeline"
	"everscribe/internal/vad"
)

var (
	// ErrAlreadyRunning guards against a second Start without an
	// intervening Stop.
	ErrAlreadyRunning = errors.New("engine is already running")
	// ErrNotRunning guards Stop and AppendAudio misuse.
	ErrNotRunning = errors.New("engine is not running")
	// ErrEngineStopped is returned by Start on a stopped instance; a
	// fresh engine must be created per session.
	ErrEngineStopped = errors.New("engine instance is stopped and cannot be restarted")
	// ErrPermissionDenied is returned by Start when the recognition
	// service refuses microphone or recognition access.
	ErrPermissionDenied = errors.New("speech recognition permission denied")
	// ErrServiceUnavailable is returned by Start when the recognition
	// service cannot be reached at all.
	ErrServiceUnavailable = errors.New("speech recognition service unavailable")
)

// Config controls one transcription session. It is immutable once the
// engine is constructed.
type Config struct {
	RequireOnDevice  bool
	SilenceThreshold float64
	SilenceDuration  time.Duration
	// MaxAttemptDuration bounds a single recognition attempt; the
	// engine rotates to a fresh attempt before the service hits its
	// own session limit.
	MaxAttemptDuration time.Duration
	// RestartDelay spaces out attempt restarts during rotation.
	RestartDelay time.Duration
	// AttemptStartThrottle limits opportunistic attempt starts from
	// bursty audio delivery.
	AttemptStartThrottle time.Duration
	// ChunkSize is the read size for the engine-owned capture pump.
	ChunkSize   int
	EventBuffer int

	Audio    ports.AudioConfig
	Language string
}

// Options assembles an Engine's collaborators.
type Options struct {
	Recognizer ports.Recognizer
	// Capture is optional: when nil the session is fed externally via
	// AppendAudio.
	Capture ports.AudioCapture
	Clock   ports.Clock
	Log     zerolog.Logger
	Config  Config
}

// Engine drives the external recognition service through repeated
// bounded recognition attempts and presents them as one unbroken
// transcription session. All mutable state is guarded by a single
// mutex; audio delivery, recognition callbacks, and timers hand off
// into that serialized region.
type Engine struct {
	recognizer ports.Recognizer
	capture    ports.AudioCapture
	clock      ports.Clock
	log        zerolog.Logger
	cfg        Config

	mu           sync.Mutex
	state        domain.EngineState
	events       chan domain.Event
	streamClosed bool

	acc       accumulator
	detector  *vad.Detector
	segments  []domain.Segment
	// sessionCtx bounds every attempt and timer; per-call contexts
	// passed to AppendAudio do not own attempt lifetimes.
	sessionCtx context.Context
	cancel     context.CancelFunc
	sessionAt  time.Time

	attempt          ports.RecognitionAttempt
	attemptGen       uint64
	attemptAt        time.Time
	attemptBase      float64
	lastAttemptStart time.Time

	captureSession ports.AudioSession
	captureDone    chan struct{}
}

// NewEngine builds an idle engine. Call Events before Start so no
// early events are lost.
func NewEngine(opts Options) *Engine {
	cfg := opts.Config
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 0.15
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = 1500 * time.Millisecond
	}
	if cfg.MaxAttemptDuration <= 0 {
		cfg.MaxAttemptDuration = 55 * time.Second
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 350 * time.Millisecond
	}
	if cfg.AttemptStartThrottle <= 0 {
		cfg.AttemptStartThrottle = 500 * time.Millisecond
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	return &Engine{
		recognizer: opts.Recognizer,
		capture:    opts.Capture,
		clock:      opts.Clock,
		log:        opts.Log,
		cfg:        cfg,
		state:      domain.EngineStateIdle,
		events:     make(chan domain.Event, cfg.EventBuffer),
		detector:   vad.NewDetector(cfg.SilenceThreshold, cfg.SilenceDuration),
	}
}

// Events returns the engine's single-consumer ordered event stream.
// Obtain it before calling Start. The stream closes exactly once, after
// Stop has emitted its trailing flush. A slow consumer delays events;
// it never loses them.
func (e *Engine) Events() <-chan domain.Event {
	return e.events
}

// State returns the current engine state.
func (e *Engine) State() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Transcript returns the committed transcript so far.
func (e *Engine) Transcript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc.Committed()
}

// Timeline returns a copy of the canonical segment timeline.
func (e *Engine) Timeline() []domain.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Segment, len(e.segments))
	copy(out, e.segments)
	return out
}

// Start requests recognition permission, launches the first attempt,
// and transitions to running. Valid only on a fresh engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case domain.EngineStateIdle:
	case domain.EngineStateStopped, domain.EngineStateError:
		e.mu.Unlock()
		return ErrEngineStopped
	default:
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.setStateLocked(domain.EngineStateStarting)
	e.mu.Unlock()

	status, err := e.recognizer.RequestPermission(ctx)
	if err != nil {
		e.failStart(domain.ErrorCodeServiceUnavailable, err.Error())
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if status != domain.PermissionGranted {
		e.failStart(domain.ErrorCodePermissionDenied, "recognition permission "+string(status))
		return ErrPermissionDenied
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	var captureSession ports.AudioSession
	if e.capture != nil {
		captureSession, err = e.capture.Start(sessionCtx, e.cfg.Audio)
		if err != nil {
			cancel()
			e.failStart(domain.ErrorCodeAudioHardware, err.Error())
			return fmt.Errorf("audio capture: %w", err)
		}
	}

	e.mu.Lock()
	e.sessionCtx = sessionCtx
	e.cancel = cancel
	e.acc.Reset()
	e.detector.Reset()
	e.segments = nil
	e.sessionAt = e.clock.Now()
	e.captureSession = captureSession
	if captureSession != nil {
		e.captureDone = make(chan struct{})
	}

	if err := e.startAttemptLocked(sessionCtx); err != nil {
		e.emitLocked(domain.Event{
			Kind:   domain.EventKindError,
			Code:   domain.ErrorCodeServiceUnavailable,
			Detail: err.Error(),
		})
		e.setStateLocked(domain.EngineStateError)
		e.closeStreamLocked()
		e.mu.Unlock()
		if captureSession != nil {
			_ = captureSession.Stop()
		}
		cancel()
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	e.setStateLocked(domain.EngineStateRunning)
	e.mu.Unlock()

	if captureSession != nil {
		go e.pumpCapture(sessionCtx, captureSession, e.captureDone)
	}

	e.log.Info().Msg("transcription session started")
	return nil
}

// AppendAudio forwards one raw audio buffer into the session: it feeds
// the level meter and VAD, forwards audio to the active attempt, and
// opportunistically starts a new attempt after a silence stop once
// speech returns. Recognition failures surface on the event stream,
// never as a return value.
func (e *Engine) AppendAudio(ctx context.Context, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != domain.EngineStateRunning && e.state != domain.EngineStateRestarting {
		return ErrNotRunning
	}

	level := audio.Level(buf)
	e.emitLocked(domain.Event{Kind: domain.EventKindAudioLevel, Level: level})

	now := e.clock.Now()
	sig := e.detector.Observe(level, now)
	if sig.Silent {
		e.handleSilenceLocked()
		return nil
	}

	if e.attempt == nil && e.state == domain.EngineStateRunning && level > e.cfg.SilenceThreshold {
		if e.lastAttemptStart.IsZero() || now.Sub(e.lastAttemptStart) >= e.cfg.AttemptStartThrottle {
			if err := e.startAttemptLocked(e.sessionCtx); err != nil {
				e.emitLocked(domain.Event{
					Kind:   domain.EventKindError,
					Code:   domain.ErrorCodeTransientRecognition,
					Detail: err.Error(),
				})
			}
		}
	}

	if e.attempt != nil {
		if err := e.attempt.SendAudio(buf); err != nil {
			e.emitLocked(domain.Event{
				Kind:   domain.EventKindError,
				Code:   domain.ErrorCodeTransientRecognition,
				Detail: fmt.Sprintf("forward audio: %v", err),
			})
		}
	}
	return nil
}

// Stop flushes any pending partial as an implicit final, tears the
// session down, and closes the event stream. It returns once the
// trailing flush has been emitted.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != domain.EngineStateRunning && e.state != domain.EngineStateRestarting {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.setStateLocked(domain.EngineStateStopping)

	attempt := e.attempt
	e.attempt = nil
	e.attemptGen++ // late attempt callbacks become no-ops
	captureSession := e.captureSession
	e.captureSession = nil
	captureDone := e.captureDone
	cancel := e.cancel
	e.cancel = nil

	if e.acc.HasPartial() {
		e.acc.Commit()
		e.emitLocked(domain.Event{
			Kind:     domain.EventKindFinal,
			Text:     e.acc.Committed(),
			Segments: e.snapshotSegmentsLocked(),
		})
	}

	e.setStateLocked(domain.EngineStateStopped)
	e.closeStreamLocked()
	e.mu.Unlock()

	if attempt != nil {
		_ = attempt.Cancel()
	}
	if captureSession != nil {
		_ = captureSession.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if captureDone != nil {
		select {
		case <-captureDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.log.Info().Msg("transcription session stopped")
	return nil
}

// startAttemptLocked begins a fresh recognition attempt and arms its
// rotation timer. Caller holds e.mu.
func (e *Engine) startAttemptLocked(ctx context.Context) error {
	e.lastAttemptStart = e.clock.Now()

	attempt, err := e.recognizer.BeginAttempt(ctx, ports.AttemptConfig{
		SampleRate:      e.cfg.Audio.SampleRate,
		Channels:        e.cfg.Audio.Channels,
		Encoding:        "linear16",
		Language:        e.cfg.Language,
		RequireOnDevice: e.cfg.RequireOnDevice,
	})
	if err != nil {
		return err
	}

	e.attemptGen++
	gen := e.attemptGen
	e.attempt = attempt
	e.attemptAt = e.clock.Now()
	e.attemptBase = e.attemptAt.Sub(e.sessionAt).Seconds()
	e.detector.Reset()

	go e.consumeAttempt(attempt, gen)
	go e.rotateAfter(ctx, gen)

	e.log.Debug().Uint64("attempt", gen).Msg("recognition attempt started")
	return nil
}

// consumeAttempt drains one attempt's hypotheses, then classifies its
// terminal outcome. Runs outside the lock; each hypothesis hands off
// into the serialized region.
func (e *Engine) consumeAttempt(attempt ports.RecognitionAttempt, gen uint64) {
	for hyp := range attempt.Hypotheses() {
		e.handleHypothesis(gen, hyp)
	}
	e.attemptEnded(gen, attempt.Wait())
}

func (e *Engine) handleHypothesis(gen uint64, hyp domain.Hypothesis) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.attemptGen || e.streamClosed {
		return
	}

	accepted := e.acc.Apply(hyp.Text, hyp.IsFinal)
	if len(hyp.Segments) > 0 {
		offset := make([]domain.RawSegment, len(hyp.Segments))
		for i, s := range hyp.Segments {
			s.Start += e.attemptBase
			s.End += e.attemptBase
			offset[i] = s
		}
		e.segments = timeline.Merge(e.segments, offset)
	}
	if !accepted && !hyp.IsFinal {
		return
	}

	if hyp.IsFinal {
		e.acc.Commit()
		e.emitLocked(domain.Event{
			Kind:     domain.EventKindFinal,
			Text:     e.acc.Committed(),
			Segments: e.snapshotSegmentsLocked(),
		})
		return
	}

	e.emitLocked(domain.Event{
		Kind:     domain.EventKindPartial,
		Text:     e.acc.Display(),
		Segments: e.snapshotSegmentsLocked(),
	})
}

// attemptEnded runs when an attempt's hypothesis stream closes. A
// recoverable outcome leaves the engine running with no active attempt;
// new speech starts the next one.
func (e *Engine) attemptEnded(gen uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.attemptGen {
		// Superseded by rotation, silence stop, or Stop.
		return
	}
	e.attempt = nil
	// Carry any pending partial into the next attempt, whatever the
	// outcome; the replacement's hypotheses start from scratch and must
	// neither be suppressed by a stale guard nor overwrite this text.
	e.acc.Rotate()

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoSpeech):
		// Expected during pauses; wait for the next speech-bearing
		// audio to start a fresh attempt.
		e.log.Debug().Uint64("attempt", gen).Msg("attempt ended with no speech")
	case errors.Is(err, domain.ErrAttemptCancelled), errors.Is(err, context.Canceled):
		// Our own teardown; never user-visible.
	default:
		e.emitLocked(domain.Event{
			Kind:   domain.EventKindError,
			Code:   domain.ErrorCodeTransientRecognition,
			Detail: err.Error(),
		})
	}
}

// handleSilenceLocked reacts to a VAD silence edge: commit the pending
// partial as a final and finish the attempt. The engine deliberately
// does not start a replacement attempt here; the opportunistic path in
// AppendAudio does that once speech returns, so no attempt-duration
// budget burns during the pause.
func (e *Engine) handleSilenceLocked() {
	if e.acc.HasPartial() {
		e.acc.Commit()
		e.emitLocked(domain.Event{
			Kind:     domain.EventKindFinal,
			Text:     e.acc.Committed(),
			Segments: e.snapshotSegmentsLocked(),
		})
	}

	if e.attempt != nil {
		attempt := e.attempt
		e.attempt = nil
		e.attemptGen++ // this stop is deliberate; drop its terminal callback
		go func() { _ = attempt.Finish() }()
		e.log.Debug().Msg("attempt stopped on silence")
	}
}

// rotateAfter fires the max-duration safety rotation for one specific
// attempt generation. A superseded attempt is never rotated.
func (e *Engine) rotateAfter(ctx context.Context, gen uint64) {
	select {
	case <-e.clock.After(e.cfg.MaxAttemptDuration):
	case <-ctx.Done():
		return
	}

	e.mu.Lock()
	if gen != e.attemptGen || e.state != domain.EngineStateRunning || e.attempt == nil {
		e.mu.Unlock()
		return
	}
	attempt := e.attempt
	e.attempt = nil
	e.attemptGen++
	e.acc.Rotate()
	e.setStateLocked(domain.EngineStateRestarting)
	e.mu.Unlock()

	_ = attempt.Finish()

	// Brief pause between attempts avoids tight restart loops against
	// an already-struggling service.
	select {
	case <-e.clock.After(e.cfg.RestartDelay):
	case <-ctx.Done():
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != domain.EngineStateRestarting {
		return
	}
	if err := e.startAttemptLocked(ctx); err != nil {
		e.emitLocked(domain.Event{
			Kind:   domain.EventKindError,
			Code:   domain.ErrorCodeTransientRecognition,
			Detail: fmt.Sprintf("restart attempt: %v", err),
		})
	}
	e.setStateLocked(domain.EngineStateRunning)
	e.log.Debug().Uint64("attempt", e.attemptGen).Msg("attempt rotated at max duration")
}

// pumpCapture reads the engine-owned microphone session and feeds it
// through the same AppendAudio path external callers use.
func (e *Engine) pumpCapture(ctx context.Context, session ports.AudioSession, done chan struct{}) {
	defer close(done)

	buf := make([]byte, e.cfg.ChunkSize)
	for {
		n, err := session.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if appendErr := e.AppendAudio(ctx, chunk); appendErr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				e.mu.Lock()
				e.emitLocked(domain.Event{
					Kind:   domain.EventKindError,
					Code:   domain.ErrorCodeAudioHardware,
					Detail: fmt.Sprintf("audio capture: %v", err),
				})
				e.mu.Unlock()
			}
			return
		}
	}
}

// failStart records the terminal error state and closes the stream so
// a consumer already ranging it unblocks.
func (e *Engine) failStart(code domain.ErrorCode, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitLocked(domain.Event{Kind: domain.EventKindError, Code: code, Detail: detail})
	e.setStateLocked(domain.EngineStateError)
	e.closeStreamLocked()
}

// closeStreamLocked ends the event stream exactly once. Caller holds
// e.mu.
func (e *Engine) closeStreamLocked() {
	if e.streamClosed {
		return
	}
	e.streamClosed = true
	close(e.events)
}

// setStateLocked updates state and emits the transition. Caller holds
// e.mu.
func (e *Engine) setStateLocked(state domain.EngineState) {
	e.state = state
	e.emitLocked(domain.Event{Kind: domain.EventKindStateChange, State: state})
}

// emitLocked delivers one event in processing order. Delivery blocks
// once the buffer fills; a slow consumer delays the engine rather than
// losing events. Caller holds e.mu.
func (e *Engine) emitLocked(ev domain.Event) {
	if e.streamClosed {
		return
	}
	e.events <- ev
}

func (e *Engine) snapshotSegmentsLocked() []domain.Segment {
	if len(e.segments) == 0 {
		return nil
	}
	out := make([]domain.Segment, len(e.segments))
	copy(out, e.segments)
	return out
}
