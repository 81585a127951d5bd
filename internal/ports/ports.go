package ports

import (
	"context"
	"io"
	"time"

	"everscribe/internal/domain"
)

// Clock abstracts the time source so silence and rotation timers can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AttemptConfig describes one bounded recognition attempt.
type AttemptConfig struct {
	SampleRate      int
	Channels        int
	Encoding        string
	Language        string
	RequireOnDevice bool
}

// RecognitionAttempt is one bounded-duration invocation of the external
// recognition service. It delivers zero or more hypotheses and exactly
// one terminal outcome, observable via Wait after Hypotheses closes.
type RecognitionAttempt interface {
	SendAudio(chunk []byte) error
	// Hypotheses yields evolving partial and final guesses until the
	// attempt terminates, then closes.
	Hypotheses() <-chan domain.Hypothesis
	// Finish gracefully ends the attempt, flushing buffered audio so a
	// trailing final hypothesis can still arrive.
	Finish() error
	// Cancel tears the attempt down without waiting for a flush.
	Cancel() error
	// Wait blocks until the attempt has terminated and returns its
	// terminal outcome. Recoverable outcomes are reported as typed
	// errors (see domain.ErrorCode); nil means success.
	Wait() error
}

// Recognizer starts recognition attempts against an external
// speech-to-text service.
type Recognizer interface {
	RequestPermission(ctx context.Context) (domain.PermissionStatus, error)
	BeginAttempt(ctx context.Context, cfg AttemptConfig) (RecognitionAttempt, error)
}

// SegmentStore is the persistence contract for the canonical segment
// timeline. Implementations must use atomic replace-on-write (write to
// a temporary location, then rename) so a crash mid-write never
// corrupts the stored timeline, and MergeOnResume must apply the same
// merge policy as timeline.Merge so reloaded sessions neither duplicate
// nor lose segments. The engine is the single writer; the store is an
// injected collaborator, never shared process-wide state.
type SegmentStore interface {
	Write(ctx context.Context, segments []domain.Segment) error
	Append(ctx context.Context, segments []domain.Segment) error
	Read(ctx context.Context) ([]domain.Segment, error)
	MergeOnResume(ctx context.Context, incoming []domain.Segment) error
}
