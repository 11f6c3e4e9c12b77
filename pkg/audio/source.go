// Package audio defines the interfaces and types shared by the clearmic
// capture-and-enhancement pipeline.
//
// The primary abstractions are:
//
//   - [CaptureSource] — delivers raw device audio to a [Callback], one block
//     per hardware period.
//   - [Encoder] — receives the finished mono buffer at the target rate.
//   - [TriggerSource] — delivers abstract start/stop/cancel [Intent] values;
//     the core has no knowledge of physical keys or wake-word models.
//
// Implementations of these interfaces are provided by adapter packages
// (audio/malgo, audio/wavsink, audio/opussink). The interfaces are
// intentionally narrow to keep the recording coordinator decoupled from
// device and codec details.
//
// This package lives under pkg/ because external code (alternative capture
// backends, encoders) is expected to implement these interfaces.
package audio

import "context"

// Callback receives one block of raw interleaved float32 samples per hardware
// period, at the device-native sample rate and channel count.
//
// The callback runs on the capture source's own execution context and must
// never block: no locks held across slow operations, no channel sends without
// a ready buffer, no I/O. The sample slice is only valid for the duration of
// the call.
type Callback func(samples []float32, channels int, sampleRate int)

// CaptureSource is the entry point for a microphone capture backend.
// Implementations wrap a device API (miniaudio, PortAudio, a test script)
// and invoke the registered [Callback] once per hardware period.
//
// Implementations must be safe for concurrent use.
type CaptureSource interface {
	// Start opens the device and begins invoking cb. The supplied ctx governs
	// the lifetime of the start attempt only; once running, capture continues
	// until Stop is called.
	//
	// Returns an error if the device cannot be opened (unavailable, in use,
	// permission denied). No callback is invoked after Start returns an error.
	Start(ctx context.Context, cb Callback) error

	// Stop halts capture and returns only after the last in-flight callback
	// has completed, so callers may safely reset callback-owned state
	// afterwards. Stop is idempotent; stopping a source that is not running
	// returns nil.
	Stop() error
}

// FormatReporter is implemented by capture sources that know their device
// format ahead of delivery. The coordinator uses it to configure the
// enhancement chain before the first callback; sources that cannot report a
// format up front are configured lazily from the first delivered block.
type FormatReporter interface {
	// Format returns the native sample rate and interleaved channel count.
	Format() (sampleRate, channels int)
}

// Encoder receives a finished recording for persistence. It is an external
// collaborator: the coordinator hands it the drained buffer after a normal
// stop and never calls it on cancel.
type Encoder interface {
	// Encode persists the mono samples captured at sampleRate.
	Encode(ctx context.Context, samples []float32, sampleRate int) error
}

// Intent is an abstract lifecycle request produced by a trigger source
// (hotkey daemon, wake-word detector, UI button).
type Intent int

const (
	// IntentStart requests that a recording begin.
	IntentStart Intent = iota

	// IntentStop requests that the active recording be finalized.
	IntentStop

	// IntentCancel requests that the active recording be discarded.
	IntentCancel
)

// String returns the human-readable name of the intent.
func (i Intent) String() string {
	switch i {
	case IntentStart:
		return "START"
	case IntentStop:
		return "STOP"
	case IntentCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// TriggerSource delivers lifecycle intents to the coordinator. The returned
// channel is closed when the source shuts down.
type TriggerSource interface {
	Intents() <-chan Intent
}
