package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the transcription engine.
type Config struct {
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Engine   EngineConfig

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type DeepgramConfig struct {
	APIKey      string `env:"DEEPGRAM_API_KEY"`
	APIBaseURL  string `env:"DEEPGRAM_API_BASE" envDefault:"https://api.deepgram.com/v1"`
	Model       string `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`
	Language    string `env:"DEEPGRAM_LANGUAGE"`
	SmartFormat bool   `env:"DEEPGRAM_SMART_FORMAT" envDefault:"true"`
}

type AudioConfig struct {
	RecorderCommand string `env:"EVERSCRIBE_FFMPEG_COMMAND" envDefault:"ffmpeg"`
	InputFormat     string `env:"EVERSCRIBE_AUDIO_INPUT_FORMAT" envDefault:"pulse"`
	InputDevice     string `env:"EVERSCRIBE_AUDIO_INPUT_DEVICE" envDefault:"default"`
	SampleRate      int    `env:"EVERSCRIBE_SAMPLE_RATE" envDefault:"16000"`
	Channels        int    `env:"EVERSCRIBE_CHANNELS" envDefault:"1"`
}

type EngineConfig struct {
	RequireOnDevice      bool          `env:"EVERSCRIBE_REQUIRE_ON_DEVICE" envDefault:"false"`
	SilenceThreshold     float64       `env:"EVERSCRIBE_SILENCE_THRESHOLD" envDefault:"0.15"`
	SilenceDuration      time.Duration `env:"EVERSCRIBE_SILENCE_DURATION" envDefault:"1500ms"`
	MaxAttemptDuration   time.Duration `env:"EVERSCRIBE_MAX_ATTEMPT_DURATION" envDefault:"55s"`
	RestartDelay         time.Duration `env:"EVERSCRIBE_RESTART_DELAY" envDefault:"350ms"`
	AttemptStartThrottle time.Duration `env:"EVERSCRIBE_ATTEMPT_START_THROTTLE" envDefault:"500ms"`
	ChunkSize            int           `env:"EVERSCRIBE_CHUNK_SIZE" envDefault:"4096"`
	EventBuffer          int           `env:"EVERSCRIBE_EVENT_BUFFER" envDefault:"64"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	LogLevel string
	APIKey   string
	Language string
}

// Load reads configuration from .env file, environment variables, and
// CLI overrides. Priority: CLI flags > environment variables > .env
// file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.APIKey != "" {
		cfg.Deepgram.APIKey = overrides.APIKey
	}
	if overrides.Language != "" {
		cfg.Deepgram.Language = overrides.Language
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Engine.SilenceThreshold < 0 || c.Engine.SilenceThreshold > 1 {
		return fmt.Errorf("silence threshold %v out of range [0, 1]", c.Engine.SilenceThreshold)
	}
	if c.Engine.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", c.Engine.SilenceDuration)
	}
	if c.Engine.MaxAttemptDuration <= 0 {
		return fmt.Errorf("max attempt duration must be positive, got %v", c.Engine.MaxAttemptDuration)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", c.Audio.Channels)
	}
	return nil
}
