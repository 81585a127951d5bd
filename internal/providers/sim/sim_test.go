package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"everscribe/internal/domain"
	"everscribe/internal/ports"
)

func TestSimAttemptDeliversPartialsThenFinal(t *testing.T) {
	t.Parallel()

	r := NewRecognizer([]Script{{Utterance: "hello brave world", WordDelay: time.Millisecond}}, zerolog.Nop())
	attempt, err := r.BeginAttempt(context.Background(), ports.AttemptConfig{})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	var hyps []domain.Hypothesis
	for h := range attempt.Hypotheses() {
		hyps = append(hyps, h)
	}
	if err := attempt.Wait(); err != nil {
		t.Fatalf("unexpected terminal error: %v", err)
	}

	if len(hyps) != 3 {
		t.Fatalf("expected 3 hypotheses, got %d", len(hyps))
	}
	if hyps[0].Text != "hello" || hyps[0].IsFinal {
		t.Fatalf("unexpected first hypothesis: %+v", hyps[0])
	}
	last := hyps[len(hyps)-1]
	if last.Text != "hello brave world" || !last.IsFinal {
		t.Fatalf("unexpected final hypothesis: %+v", last)
	}
	if len(last.Segments) != 3 {
		t.Fatalf("expected per-word segments, got %+v", last.Segments)
	}
	if last.Segments[1].Start >= last.Segments[1].End {
		t.Fatalf("invalid segment timing: %+v", last.Segments[1])
	}
}

func TestSimEmptyScriptEndsWithNoSpeech(t *testing.T) {
	t.Parallel()

	r := NewRecognizer(nil, zerolog.Nop())
	attempt, err := r.BeginAttempt(context.Background(), ports.AttemptConfig{})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	for range attempt.Hypotheses() {
	}
	if !errors.Is(attempt.Wait(), domain.ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", attempt.Wait())
	}
}

func TestSimScriptedFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := NewRecognizer([]Script{{Fail: boom}}, zerolog.Nop())
	attempt, err := r.BeginAttempt(context.Background(), ports.AttemptConfig{})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	for range attempt.Hypotheses() {
	}
	if !errors.Is(attempt.Wait(), boom) {
		t.Fatalf("expected scripted failure, got %v", attempt.Wait())
	}
}

func TestSimCancelReportsCancellation(t *testing.T) {
	t.Parallel()

	r := NewRecognizer([]Script{{Utterance: "a long utterance", WordDelay: time.Hour}}, zerolog.Nop())
	attempt, err := r.BeginAttempt(context.Background(), ports.AttemptConfig{})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := attempt.Cancel(); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !errors.Is(attempt.Wait(), domain.ErrAttemptCancelled) {
		t.Fatalf("expected ErrAttemptCancelled, got %v", attempt.Wait())
	}
}

func TestSimDeniedPermission(t *testing.T) {
	t.Parallel()

	r := NewRecognizer(nil, zerolog.Nop())
	r.DenyPermission()
	status, err := r.RequestPermission(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != domain.PermissionDenied {
		t.Fatalf("expected denied, got %s", status)
	}
}
