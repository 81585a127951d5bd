package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"everscribe/internal/bootstrap"
	"everscribe/internal/config"
	"everscribe/internal/domain"
	"everscribe/internal/providers/sim"
)

var version = "dev"

func main() {
	envFile := flag.String("env", "", "path to .env file")
	logLevel := flag.String("log-level", "", "log level (trace, debug, info, warn, error)")
	apiKey := flag.String("api-key", "", "recognition service API key (overrides env)")
	language := flag.String("language", "", "recognition language code, e.g. en-US")
	demo := flag.Bool("demo", false, "run against the simulated backend with canned speech")
	flag.Parse()

	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		LogLevel: *logLevel,
		APIKey:   *apiKey,
		Language: *language,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("everscribe starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var scripts []sim.Script
	if *demo {
		scripts = demoScripts()
	}

	services, err := bootstrap.Build(cfg, log, scripts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble engine")
	}
	log.Info().Str("backend", services.Backend).Msg("recognition backend selected")

	engine := services.Engine
	events := engine.Events()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			switch ev.Kind {
			case domain.EventKindPartial:
				fmt.Printf("… %s\n", ev.Text)
			case domain.EventKindFinal:
				fmt.Printf("%s\n", ev.Text)
			case domain.EventKindError:
				log.Warn().Str("code", string(ev.Code)).Str("detail", ev.Detail).Msg("session error")
			case domain.EventKindStateChange:
				log.Debug().Str("state", string(ev.State)).Msg("state change")
			}
		}
	}()

	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start session")
	}
	log.Info().Msg("listening, press ctrl-c to stop")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("session stop error")
	}
	<-done

	log.Info().Str("transcript", engine.Transcript()).Msg("everscribe stopped")
}

func demoScripts() []sim.Script {
	return []sim.Script{
		{Utterance: "welcome to the live transcription demo", WordDelay: 300 * time.Millisecond, WordDuration: 0.3},
		{Utterance: "everything you say appears here as you speak", WordDelay: 300 * time.Millisecond, WordDuration: 0.3},
	}
}
