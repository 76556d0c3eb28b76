package scheduler

import (
	"fmt"
	"time"
)

// TimeInterval is an immutable half-open range [start, end).
type TimeInterval struct {
	start time.Time
	end   time.Time
}

// NewTimeInterval validates that start is strictly before end.
func NewTimeInterval(start, end time.Time) (TimeInterval, error) {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return TimeInterval{}, ErrInvalidInterval.WithField("time", "start must be before end")
	}
	return TimeInterval{start: start, end: end}, nil
}

func (i TimeInterval) Start() time.Time { return i.start }

func (i TimeInterval) End() time.Time { return i.end }

func (i TimeInterval) Duration() time.Duration { return i.end.Sub(i.start) }

// IsZero reports whether the interval was never constructed.
func (i TimeInterval) IsZero() bool { return i.start.IsZero() && i.end.IsZero() }

// Overlaps reports whether both intervals share at least one instant.
// Intervals that only touch at a boundary do not overlap.
func (i TimeInterval) Overlaps(other TimeInterval) bool {
	return i.start.Before(other.end) && other.start.Before(i.end)
}

// Contains uses closed bounds: start <= t <= end.
func (i TimeInterval) Contains(t time.Time) bool {
	return !t.Before(i.start) && !t.After(i.end)
}

// Equal compares both bounds as instants.
func (i TimeInterval) Equal(other TimeInterval) bool {
	return i.start.Equal(other.start) && i.end.Equal(other.end)
}

func (i TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s)", i.start.Format(time.RFC3339), i.end.Format(time.RFC3339))
}
