package ports_test

import (
	"context"
	"sync"
	"testing"

	"everscribe/internal/domain"
	"everscribe/internal/ports"
	"everscribe/internal/timeline"
)

// memoryStore is an in-memory ports.SegmentStore used to pin down the
// contract: resumed sessions merge with the same policy as live ones,
// so reloading neither duplicates nor drops segments.
type memoryStore struct {
	mu       sync.Mutex
	segments []domain.Segment
}

func (s *memoryStore) Write(_ context.Context, segments []domain.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append([]domain.Segment(nil), segments...)
	return nil
}

func (s *memoryStore) Append(_ context.Context, segments []domain.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, segments...)
	return nil
}

func (s *memoryStore) Read(_ context.Context) ([]domain.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Segment(nil), s.segments...), nil
}

func (s *memoryStore) MergeOnResume(_ context.Context, incoming []domain.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := make([]domain.RawSegment, len(incoming))
	for i, seg := range incoming {
		raw[i] = domain.RawSegment{Text: seg.Text, Start: seg.Start, End: seg.End, Confidence: seg.Confidence}
	}
	s.segments = timeline.Merge(s.segments, raw)
	return nil
}

var _ ports.SegmentStore = (*memoryStore)(nil)

func TestSegmentStoreResumeMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memoryStore{}
	saved := []domain.Segment{
		{Text: "hello", Start: 0, End: 0.4},
		{Text: "world", Start: 0.5, End: 0.9},
	}
	if err := store.Write(ctx, saved); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Resuming with the same segments twice must not duplicate them.
	for i := 0; i < 2; i++ {
		if err := store.MergeOnResume(ctx, saved); err != nil {
			t.Fatalf("merge on resume: %v", err)
		}
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 segments after resume, got %d: %+v", len(got), got)
	}
	if err := timeline.Validate(got); err != nil {
		t.Fatalf("stored timeline invalid: %v", err)
	}
}

func TestSegmentStoreResumeAcceptsCorrections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memoryStore{}
	if err := store.Write(ctx, []domain.Segment{{Text: "How ar", Start: 0, End: 0.8}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	corrected := []domain.Segment{{Text: "How are", Start: 0, End: 0.8}}
	if err := store.MergeOnResume(ctx, corrected); err != nil {
		t.Fatalf("merge on resume: %v", err)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Text != "How are" {
		t.Fatalf("correction not applied: %+v", got)
	}
}
