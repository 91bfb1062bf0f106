package domain

import "fmt"

// InsufficientDataError is returned when a price series is shorter than an
// indicator or analyzer requires. Callers get no partial result.
type InsufficientDataError struct {
	Op   string
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: need at least %d data points, got %d", e.Op, e.Need, e.Got)
}

// InvalidParameterError is returned for bad periods, thresholds or other
// configuration values. Fails fast, never substitutes a default.
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

// ComponentDegradedError marks a confidence component that could not be
// computed. The scorer catches it internally and substitutes the neutral
// baseline; it never reaches the caller.
type ComponentDegradedError struct {
	Component string
	Cause     error
}

func (e *ComponentDegradedError) Error() string {
	return fmt.Sprintf("confidence component %s degraded: %v", e.Component, e.Cause)
}

func (e *ComponentDegradedError) Unwrap() error { return e.Cause }
