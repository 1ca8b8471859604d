package whip

import (
	"errors"
	"fmt"
)

// ErrStopped is returned when a session was torn down while an operation was running.
var ErrStopped = errors.New("session stopped")

// ErrRestartUnavailable means neither the transport nor the signaling side can restart ICE in place.
var ErrRestartUnavailable = errors.New("in-place ICE restart unavailable")

// CaptureError is returned when the media source can't be acquired or is unusable.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return "capture failed: " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// SignalingError is a non-2xx response of the WHIP endpoint.
type SignalingError struct {
	Method     string
	Status     int
	StatusText string
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("WHIP %s failed: %d - %s", e.Method, e.Status, e.StatusText)
}

// PublishError is the only error surfaced to the caller of Start.
type PublishError struct {
	Endpoint string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Endpoint, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// RecoveryFailure describes a recovery attempt that did not succeed. It is only logged.
type RecoveryFailure struct {
	Action string
	Reason string
	Err    error
}

func (e *RecoveryFailure) Error() string {
	return fmt.Sprintf("%s (%s) failed: %v", e.Action, e.Reason, e.Err)
}

func (e *RecoveryFailure) Unwrap() error {
	return e.Err
}

// TeardownFailure describes a failed shutdown step. It is only logged.
type TeardownFailure struct {
	Step string
	Err  error
}

func (e *TeardownFailure) Error() string {
	return fmt.Sprintf("teardown step '%s' failed: %v", e.Step, e.Err)
}

func (e *TeardownFailure) Unwrap() error {
	return e.Err
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
