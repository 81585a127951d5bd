package clock

import (
	"time"

	"everscribe/internal/ports"
)

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }

var _ ports.Clock = System{}
