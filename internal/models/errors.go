package models

import (
	"errors"
	"fmt"
)

// ErrInvalidWindowSpec is returned when the user-supplied time window is
// malformed or ambiguous. It is fatal and aborts the run before any fetch.
var ErrInvalidWindowSpec = errors.New("invalid window spec")

// ErrRenderInput indicates an internal contract violation between the
// pipeline stages and the renderer. It should never occur with valid
// upstream output and must not be swallowed.
var ErrRenderInput = errors.New("render input error")

// AuthorizationError is a fatal credential or permission failure against the
// monitoring backend.
type AuthorizationError struct {
	StatusCode int
	Detail     string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("monitoring backend authorization failed (status %d): %s", e.StatusCode, e.Detail)
}

// FetchError is a per-metric-type fetch failure. It is recoverable: the
// metric type is recorded as unavailable and the run continues.
type FetchError struct {
	Metric MetricType
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for metric %s: %v", e.Metric, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InsufficientDataError is raised when a metric type has no usable samples
// in the whole window. Recoverable, same treatment as FetchError.
type InsufficientDataError struct {
	Metric MetricType
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("no usable data for metric %s in the requested window", e.Metric)
}

// Warning is a recoverable per-metric problem surfaced in the final report
// instead of aborting the run.
type Warning struct {
	Metric  MetricType `yaml:"metric"`
	Message string     `yaml:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Metric, w.Message)
}
