package usecase

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"everscribe/internal/domain"
	"everscribe/internal/ports"
)

type clockWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []clockWaiter
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, clockWaiter{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the clock forward and fires any elapsed waiters.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

func (c *fakeClock) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// waitForWaiters blocks until at least n timers are armed on the clock.
func (c *fakeClock) waitForWaiters(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.waiterCount() >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clock waiters", n)
}

type fakeAttempt struct {
	mu          sync.Mutex
	hyps        chan domain.Hypothesis
	audio       [][]byte
	finishCalls int
	cancelCalls int
	waitErr     error
	closed      bool
}

func newFakeAttempt() *fakeAttempt {
	return &fakeAttempt{hyps: make(chan domain.Hypothesis, 16)}
}

func (f *fakeAttempt) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeAttempt) Hypotheses() <-chan domain.Hypothesis { return f.hyps }

func (f *fakeAttempt) Finish() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls++
	f.closeLocked()
	return nil
}

func (f *fakeAttempt) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	f.closeLocked()
	return nil
}

func (f *fakeAttempt) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeAttempt) push(h domain.Hypothesis) { f.hyps <- h }

// end simulates the service terminating the attempt with the given
// outcome.
func (f *fakeAttempt) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitErr = err
	f.closeLocked()
}

func (f *fakeAttempt) closeLocked() {
	if !f.closed {
		close(f.hyps)
		f.closed = true
	}
}

func (f *fakeAttempt) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishCalls + f.cancelCalls
}

type fakeRecognizer struct {
	mu            sync.Mutex
	permission    domain.PermissionStatus
	permissionErr error
	attempts      []*fakeAttempt
	beginErr      error
	beginCalls    int
}

func newFakeRecognizer(attempts ...*fakeAttempt) *fakeRecognizer {
	return &fakeRecognizer{permission: domain.PermissionGranted, attempts: attempts}
}

func (f *fakeRecognizer) RequestPermission(_ context.Context) (domain.PermissionStatus, error) {
	if f.permissionErr != nil {
		return "", f.permissionErr
	}
	return f.permission, nil
}

func (f *fakeRecognizer) BeginAttempt(_ context.Context, _ ports.AttemptConfig) (ports.RecognitionAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	if f.beginCalls >= len(f.attempts) {
		return nil, errors.New("no attempt configured")
	}
	attempt := f.attempts[f.beginCalls]
	f.beginCalls++
	return attempt, nil
}

func (f *fakeRecognizer) begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginCalls
}

// speechChunk and silenceChunk are s16le PCM buffers whose RMS level
// lands clearly above and below the default 0.15 threshold.
func speechChunk() []byte { return toneChunk(20000) }

func silenceChunk() []byte { return toneChunk(20) }

func toneChunk(amplitude int16) []byte {
	out := make([]byte, 320)
	for i := 0; i < len(out); i += 2 {
		binary.LittleEndian.PutUint16(out[i:], uint16(amplitude))
	}
	return out
}

// nextEvent reads until an event of the wanted kind arrives, skipping
// interleaved events of other kinds.
func nextEvent(t *testing.T, events <-chan domain.Event, kind domain.EventKind) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// drainEvents collects everything remaining on a closed stream.
func drainEvents(events <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func (e *Engine) activeAttempt() ports.RecognitionAttempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempt
}

// waitAttemptCleared polls until the engine has processed the active
// attempt's termination.
func waitAttemptCleared(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.activeAttempt() == nil {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("attempt was not cleared")
}

// waitStops polls until the attempt has seen the expected number of
// Finish/Cancel calls; the engine tears attempts down off the hot path.
func waitStops(t *testing.T, attempt *fakeAttempt, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if attempt.stops() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d attempt stops, got %d", want, attempt.stops())
}

func waitState(t *testing.T, e *Engine, want domain.EngineState) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("engine never reached state %s (now %s)", want, e.State())
}
