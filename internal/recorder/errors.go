package recorder

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by coordinator transitions. Callers match them
// with [errors.Is] and own the user-visible messaging.
var (
	// ErrDeviceUnavailable reports that the capture device could not be
	// opened at start. Fatal for the attempted transition; no state change
	// occurred.
	ErrDeviceUnavailable = errors.New("recorder: capture device unavailable")

	// ErrDeviceDisconnected reports that the device was lost mid-recording
	// and could not be recovered within the reconnect budget.
	ErrDeviceDisconnected = errors.New("recorder: capture device disconnected")

	// ErrInvalidTransition reports a lifecycle request that is not legal in
	// the current state. The request had no side effects.
	ErrInvalidTransition = errors.New("recorder: invalid state transition")

	// ErrQuiesceTimeout reports that the capture source did not confirm
	// shutdown within the configured timeout. The coordinator treats this
	// conservatively: the session finalizes without flushing stage state
	// that may still be owned by a live callback.
	ErrQuiesceTimeout = errors.New("recorder: capture source did not quiesce in time")
)

// StageError wraps a failure from a named processing or persistence stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("recorder: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
