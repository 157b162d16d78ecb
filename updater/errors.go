// Package updater implements the client-side control loop of the OTA
// firmware update protocol.
//
// This file defines sentinel errors and the session error wrapper. These
// enable callers to use errors.Is/errors.As for typed assertions on the
// failure cause rather than string matching.
package updater

import (
	"errors"
	"fmt"
)

// Sentinel errors for session failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrEncode indicates a locally held version identifier exceeded the
	// protocol bound while building session state or a report.
	ErrEncode = errors.New("version encode failed")

	// ErrDecode indicates a received version identifier exceeded the
	// protocol bound.
	ErrDecode = errors.New("version decode failed")

	// ErrDelay indicates the delay capability failed.
	ErrDelay = errors.New("delay failed")

	// ErrDevice indicates a device capability operation failed.
	ErrDevice = errors.New("device operation failed")

	// ErrService indicates the update service request failed. Defined for
	// completeness: the session loop retries service failures internally
	// and never surfaces this kind to the caller.
	ErrService = errors.New("service request failed")
)

// Error wraps an underlying capability error with session classification.
// It preserves the original error in the chain for inspection via errors.As,
// so device and service errors remain distinguishable by cause.
type Error struct {
	// Kind is the sentinel error for classification (e.g. ErrDevice).
	Kind error
	// Op is the operation that failed (e.g. "status", "write", "delay").
	Op string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func deviceError(op string, err error) error {
	return &Error{Kind: ErrDevice, Op: op, Err: err}
}

func delayError(err error) error {
	return &Error{Kind: ErrDelay, Op: "delay", Err: err}
}

func encodeError(op string) error {
	return &Error{Kind: ErrEncode, Op: op}
}

func decodeError(op string) error {
	return &Error{Kind: ErrDecode, Op: op}
}
