package domain

import "errors"

// Terminal attempt outcomes that the engine treats as expected rather
// than user-visible failures. Recognizer backends wrap their own
// conditions in these sentinels so the engine can classify them with
// errors.Is.
var (
	// ErrNoSpeech reports an attempt that ended because the service
	// heard nothing; the session idles until speech returns.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrAttemptCancelled reports an attempt torn down by the engine's
	// own rotation or stop path.
	ErrAttemptCancelled = errors.New("recognition attempt cancelled")
)
