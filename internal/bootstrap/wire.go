// Package bootstrap assembles the runtime graph: configuration feeds a
// recognizer capability probe, the probe picks a backend, and the
// result is wired into a transcription engine the CLI can run.
package bootstrap

import (
	"errors"

	"github.com/rs/zerolog"

	"everscribe/internal/audio"
	"everscribe/internal/clock"
	"everscribe/internal/config"
	"everscribe/internal/ports"
	"everscribe/internal/providers/deepgram"
	"everscribe/internal/providers/sim"
	"everscribe/internal/usecase"
)

// ErrNoBackend is returned when the configuration demands on-device
// recognition but only the cloud backend could satisfy the session.
var ErrNoBackend = errors.New("no recognition backend satisfies the configuration")

// Services is the assembled runtime graph.
type Services struct {
	Engine  *usecase.Engine
	Backend string
}

// Build wires the engine and its collaborators from loaded config.
// DemoScripts, when non-empty, forces the simulated backend regardless
// of credentials.
func Build(cfg *config.Config, log zerolog.Logger, demoScripts []sim.Script) (Services, error) {
	recognizer, backend, err := selectRecognizer(cfg, log, demoScripts)
	if err != nil {
		return Services{}, err
	}

	engine := usecase.NewEngine(usecase.Options{
		Recognizer: recognizer,
		Capture:    audio.NewFFmpegCapture(cfg.Audio.RecorderCommand, log.With().Str("component", "audio").Logger()),
		Clock:      clock.System{},
		Log:        log.With().Str("component", "engine").Logger(),
		Config: usecase.Config{
			RequireOnDevice:      cfg.Engine.RequireOnDevice,
			SilenceThreshold:     cfg.Engine.SilenceThreshold,
			SilenceDuration:      cfg.Engine.SilenceDuration,
			MaxAttemptDuration:   cfg.Engine.MaxAttemptDuration,
			RestartDelay:         cfg.Engine.RestartDelay,
			AttemptStartThrottle: cfg.Engine.AttemptStartThrottle,
			ChunkSize:            cfg.Engine.ChunkSize,
			EventBuffer:          cfg.Engine.EventBuffer,
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Language: cfg.Deepgram.Language,
		},
	})

	return Services{Engine: engine, Backend: backend}, nil
}

// selectRecognizer probes backend capabilities against the config. The
// cloud backend needs a credential and is excluded when recognition
// must stay on device; the simulated backend fills in for demos.
func selectRecognizer(cfg *config.Config, log zerolog.Logger, demoScripts []sim.Script) (ports.Recognizer, string, error) {
	if len(demoScripts) > 0 {
		return sim.NewRecognizer(demoScripts, log.With().Str("component", "sim").Logger()), "sim", nil
	}
	if cfg.Engine.RequireOnDevice {
		return nil, "", ErrNoBackend
	}
	if cfg.Deepgram.APIKey == "" {
		return nil, "", ErrNoBackend
	}
	return deepgram.NewRecognizer(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.APIBaseURL,
		Model:       cfg.Deepgram.Model,
		Language:    cfg.Deepgram.Language,
		SmartFormat: cfg.Deepgram.SmartFormat,
	}, log.With().Str("component", "deepgram").Logger()), "deepgram", nil
}
