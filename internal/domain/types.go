package domain

// EngineState models the continuous transcription session lifecycle.
type EngineState string

const (
	EngineStateIdle       EngineState = "idle"
	EngineStateStarting   EngineState = "starting"
	EngineStateRunning    EngineState = "running"
	EngineStateRestarting EngineState = "restarting"
	EngineStateStopping   EngineState = "stopping"
	EngineStateStopped    EngineState = "stopped"
	EngineStateError      EngineState = "error"
)

// ErrorCode identifies recoverable and fatal engine errors.
type ErrorCode string

const (
	ErrorCodePermissionDenied     ErrorCode = "permission_denied"
	ErrorCodeServiceUnavailable   ErrorCode = "service_unavailable"
	ErrorCodeAudioHardware        ErrorCode = "audio_hardware"
	ErrorCodeNoSpeech             ErrorCode = "no_speech"
	ErrorCodeCancelled            ErrorCode = "cancelled"
	ErrorCodeTransientRecognition ErrorCode = "transient_recognition"
)

// PermissionStatus is the outcome of a recognizer permission request.
type PermissionStatus string

const (
	PermissionGranted    PermissionStatus = "granted"
	PermissionDenied     PermissionStatus = "denied"
	PermissionRestricted PermissionStatus = "restricted"
)

// RawSegment is a timestamped text fragment as emitted by a recognizer.
// Times are seconds relative to the recognition attempt; fragments may
// repeat, overlap, or revise earlier fragments within the same attempt.
type RawSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Segment is the canonical, persisted transcript unit. Once accepted
// into a timeline: End > Start, both finite and non-negative, and no
// two segments overlap. Corrections replace the entry sharing the same
// (Start, End) key; segments are never mutated in place.
type Segment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Hypothesis is one recognition callback: the service's current best
// guess for the active attempt, plus its raw segment timing.
type Hypothesis struct {
	Text     string
	IsFinal  bool
	Segments []RawSegment
}

// EventKind identifies an engine event stream entry.
type EventKind string

const (
	EventKindPartial     EventKind = "partial"
	EventKindFinal       EventKind = "final"
	EventKindAudioLevel  EventKind = "audio_level"
	EventKindError       EventKind = "error"
	EventKindStateChange EventKind = "state_change"
)

// Event is a single entry on the engine's ordered event stream. Fields
// are populated per kind: Text/Segments for partial and final, Level
// for audio_level, Code/Detail for error, State for state_change.
type Event struct {
	Kind     EventKind   `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Segments []Segment   `json:"segments,omitempty"`
	Level    float64     `json:"level,omitempty"`
	Code     ErrorCode   `json:"code,omitempty"`
	Detail   string      `json:"detail,omitempty"`
	State    EngineState `json:"state,omitempty"`
}
