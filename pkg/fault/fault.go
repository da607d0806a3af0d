// Package fault defines the error taxonomy shared by the oracle and swap
// engines. Every rejection carries one of the four category sentinels so
// callers can branch with errors.Is while the message keeps the exact
// precondition that failed.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks precondition violations at creation or matching.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAccessControl marks a wrong caller on a privileged entry point.
	ErrAccessControl = errors.New("access denied")
	// ErrTiming marks an operation attempted outside its valid window.
	ErrTiming = errors.New("timing")
	// ErrStateConflict marks digest mismatches and operations on terminal records.
	ErrStateConflict = errors.New("state conflict")
)

func Invalid(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidInput)
}

func Access(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrAccessControl)
}

func Timing(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrTiming)
}

func Conflict(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrStateConflict)
}
