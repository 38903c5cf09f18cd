package models

import "fmt"

// DataSourceError reports a failed or timed-out warehouse read.
// Callers may retry with the same parameters.
type DataSourceError struct {
	Op  string
	Err error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source %s: %v", e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// InvariantViolation is a programming or configuration error: an impossible
// drill-down transition, an unknown grouping key, a malformed range.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Msg }

func Invariant(format string, args ...any) error {
	return &InvariantViolation{Msg: fmt.Sprintf(format, args...)}
}
