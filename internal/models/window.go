package models

import (
	"fmt"
	"strings"
	"time"
)

// MinuteTimeFormat is the accepted input granularity for window boundaries:
// UTC, no seconds.
const MinuteTimeFormat = "2006-01-02T15:04"

// ObservationWindow is the resolved absolute observation interval
// [Start, End) plus the bucket granularity used for alignment.
type ObservationWindow struct {
	Start      time.Time
	End        time.Time
	BucketSize time.Duration
}

// Duration returns End - Start.
func (w ObservationWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// BucketCount returns how many buckets tile [Start, End) at BucketSize,
// counting a truncated final bucket.
func (w ObservationWindow) BucketCount() int {
	d := w.Duration()
	n := int(d / w.BucketSize)
	if d%w.BucketSize != 0 {
		n++
	}
	return n
}

// Validate checks the window invariants.
func (w ObservationWindow) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: start must be before end", ErrInvalidWindowSpec)
	}
	if w.BucketSize <= 0 {
		return fmt.Errorf("%w: bucket size must be positive", ErrInvalidWindowSpec)
	}
	return nil
}

// WindowRequest carries the user-supplied temporal fields before
// resolution. Exactly two of Start, End and Duration must be set.
type WindowRequest struct {
	Start    *time.Time
	End      *time.Time
	Duration time.Duration // zero means not supplied
}

// Resolve normalizes a WindowRequest into an absolute UTC window at the
// given bucket granularity. It derives the missing third field
// deterministically (end = start + duration, start = end - duration) and
// fails with ErrInvalidWindowSpec when zero, one or three fields are
// supplied. No side effects.
func (r WindowRequest) Resolve(bucketSize time.Duration) (ObservationWindow, error) {
	supplied := 0
	if r.Start != nil {
		supplied++
	}
	if r.End != nil {
		supplied++
	}
	if r.Duration != 0 {
		supplied++
	}
	if supplied != 2 {
		return ObservationWindow{}, fmt.Errorf(
			"%w: provide exactly two of start time, end time and duration (got %d)",
			ErrInvalidWindowSpec, supplied)
	}
	if r.Duration < 0 {
		return ObservationWindow{}, fmt.Errorf("%w: duration must be positive", ErrInvalidWindowSpec)
	}

	var w ObservationWindow
	w.BucketSize = bucketSize
	switch {
	case r.Start != nil && r.End != nil:
		w.Start = r.Start.UTC()
		w.End = r.End.UTC()
	case r.Start != nil:
		w.Start = r.Start.UTC()
		w.End = w.Start.Add(r.Duration)
	default:
		w.End = r.End.UTC()
		w.Start = w.End.Add(-r.Duration)
	}

	if err := w.Validate(); err != nil {
		return ObservationWindow{}, err
	}
	return w, nil
}

// ParseMinuteTime parses a UTC minute-granular timestamp
// ("2006-01-02T15:04"). A space separator and a trailing Z are tolerated;
// times are always interpreted as UTC.
func ParseMinuteTime(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	s = strings.ReplaceAll(s, " ", "T")
	s = strings.TrimSuffix(s, "Z")

	t, err := time.ParseInLocation(MinuteTimeFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf(
			"%w: invalid time %q, use UTC format YYYY-MM-DDTHH:MM (no seconds)",
			ErrInvalidWindowSpec, value)
	}
	return t, nil
}
