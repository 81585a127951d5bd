package timeline

import (
	"fmt"
	"math"
	"sort"

	"everscribe/internal/domain"
)

type segmentKey struct {
	start float64
	end   float64
}

// Merge folds a batch of raw fragments into a previously committed
// timeline and returns the canonical result: time-ordered, free of
// overlaps and exact duplicates. A fragment sharing a (start, end) key
// with an existing segment replaces it; that is how the recognition
// service delivers corrections as a hypothesis stabilizes.
//
// Overlaps that cannot be resolved by key replacement are dropped in
// favor of the earlier segment rather than clipped. Merge is
// idempotent: Merge(x, nil) == x and merging the same batch twice
// yields the same timeline.
func Merge(existing []domain.Segment, incoming []domain.RawSegment) []domain.Segment {
	byKey := make(map[segmentKey]domain.Segment, len(existing)+len(incoming))
	for _, s := range existing {
		byKey[segmentKey{s.Start, s.End}] = s
	}
	for _, f := range incoming {
		if !validTimes(f.Start, f.End) {
			continue
		}
		// Incoming wins: a re-emitted key is a correction.
		byKey[segmentKey{f.Start, f.End}] = domain.Segment{
			Text:       f.Text,
			Start:      f.Start,
			End:        f.End,
			Confidence: f.Confidence,
		}
	}

	merged := make([]domain.Segment, 0, len(byKey))
	for _, s := range byKey {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Start != merged[j].Start {
			return merged[i].Start < merged[j].Start
		}
		return merged[i].End < merged[j].End
	})

	out := merged[:0]
	lastEnd := math.Inf(-1)
	var prev domain.Segment
	for i, s := range merged {
		if s.Start < lastEnd {
			continue
		}
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
		lastEnd = s.End
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate reports the first violation of the canonical-timeline
// invariants: valid times per segment, ascending start order, and no
// overlap between adjacent segments.
func Validate(segments []domain.Segment) error {
	for i, s := range segments {
		if !validTimes(s.Start, s.End) {
			return fmt.Errorf("segment %d has invalid times [%v, %v]", i, s.Start, s.End)
		}
		if i == 0 {
			continue
		}
		if s.Start < segments[i-1].Start {
			return fmt.Errorf("segment %d starts before segment %d", i, i-1)
		}
		if s.Start < segments[i-1].End {
			return fmt.Errorf("segment %d overlaps segment %d", i, i-1)
		}
	}
	return nil
}

func validTimes(start, end float64) bool {
	if math.IsNaN(start) || math.IsNaN(end) || math.IsInf(start, 0) || math.IsInf(end, 0) {
		return false
	}
	return start >= 0 && end > start
}
