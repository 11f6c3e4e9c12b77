// Package recorder implements the recording coordinator: a small state
// machine that owns the capture lifecycle around the enhancement pipeline.
//
// The coordinator runs on the control plane. The capture callback runs on
// the device's execution context and touches only the pipeline; the two meet
// exclusively through the pipeline's lock-free capture buffer.
//
// Lock discipline: every transition commits its state-field mutations and
// releases the primary lock before calling into the capture source, which
// may re-enter the coordinator (via the callback or an async failure) and
// request the same lock. Holding the lock across such a call is how the
// original deadlock class arises, so no exported method does it.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/clearmic/clearmic/internal/observe"
	"github.com/clearmic/clearmic/internal/pipeline"
	"github.com/clearmic/clearmic/pkg/audio"
)

// State is a coordinator lifecycle state.
type State int32

const (
	// StateIdle means no capture is running and no recording is pending.
	StateIdle State = iota

	// StateListening means the coordinator waits for a start trigger and
	// returns here after each recording (listening mode only).
	StateListening

	// StateRecording means the capture source is running and the pipeline
	// is accumulating enhanced audio.
	StateRecording

	// StateProcessing means a stop is finalizing: flush, drain, metadata,
	// encode.
	StateProcessing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Mode selects the resting state between recordings.
type Mode string

const (
	// ModeManual rests in Idle; every recording is explicitly started.
	ModeManual Mode = "manual"

	// ModeListening rests in Listening, modelling an always-armed
	// wake-trigger deployment.
	ModeListening Mode = "listening"
)

// Defaults for [Config] zero values.
const (
	DefaultQuiesceTimeout    = time.Second
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 250 * time.Millisecond
)

// Config holds coordinator settings. Zero fields take the package defaults.
type Config struct {
	// Mode selects the resting state. Default [ModeManual].
	Mode Mode

	// DoubleTapWindow is the press-collapse interval. Default 300 ms.
	DoubleTapWindow time.Duration

	// QuiesceTimeout bounds the wait for capture shutdown confirmation.
	// Default 1 s.
	QuiesceTimeout time.Duration

	// ReconnectAttempts bounds device recovery mid-recording. Default 3.
	ReconnectAttempts int

	// ReconnectDelay is the pause between reconnect attempts. Default 250 ms.
	ReconnectDelay time.Duration

	// Metrics receives lifecycle instrumentation when non-nil.
	Metrics *observe.Metrics
}

// Metadata describes a completed recording.
type Metadata struct {
	// Duration is the audio length derived from the sample count.
	Duration time.Duration

	// SampleCount is the number of mono samples in the buffer.
	SampleCount int

	// SampleRate is the rate of the enhanced buffer.
	SampleRate int
}

// Recorder is the recording coordinator. All exported methods are safe for
// concurrent use.
type Recorder struct {
	source  audio.CaptureSource
	pipe    *pipeline.Pipeline
	encoder audio.Encoder

	mode              Mode
	quiesceTimeout    time.Duration
	reconnectAttempts int
	reconnectDelay    time.Duration
	metrics           *observe.Metrics

	events chan Event

	// mu is the primary lock. It protects the fields below and is never
	// held across a capture-source call.
	mu         sync.Mutex
	state      State
	transition bool
	tap        *doubleTap
	span       trace.Span
	startedAt  time.Time
	last       []float32
	lastMeta   *Metadata
}

// New creates a coordinator around the given collaborators. The encoder may
// be nil, in which case finished recordings are only retained for the
// consumer accessor.
func New(cfg Config, source audio.CaptureSource, pipe *pipeline.Pipeline, encoder audio.Encoder) *Recorder {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeManual
	}
	quiesce := cfg.QuiesceTimeout
	if quiesce == 0 {
		quiesce = DefaultQuiesceTimeout
	}
	attempts := cfg.ReconnectAttempts
	if attempts == 0 {
		attempts = DefaultReconnectAttempts
	}
	delay := cfg.ReconnectDelay
	if delay == 0 {
		delay = DefaultReconnectDelay
	}

	state := StateIdle
	if mode == ModeListening {
		state = StateListening
	}

	return &Recorder{
		source:            source,
		pipe:              pipe,
		encoder:           encoder,
		mode:              mode,
		quiesceTimeout:    quiesce,
		reconnectAttempts: attempts,
		reconnectDelay:    delay,
		metrics:           cfg.Metrics,
		events:            make(chan Event, eventBuffer),
		state:             state,
		tap:               newDoubleTap(cfg.DoubleTapWindow),
	}
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// restingState is where the coordinator returns after a recording ends.
func (r *Recorder) restingState() State {
	if r.mode == ModeListening {
		return StateListening
	}
	return StateIdle
}

// begin validates and claims a transition from one of the given states.
// On success the transition flag is set and every other lifecycle request is
// rejected until commit.
func (r *Recorder) begin(from ...State) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transition {
		return r.state, fmt.Errorf("%w: transition in progress from %s", ErrInvalidTransition, r.state)
	}
	for _, s := range from {
		if r.state == s {
			r.transition = true
			return s, nil
		}
	}
	return r.state, fmt.Errorf("%w: cannot leave %s", ErrInvalidTransition, r.state)
}

// commit finishes a transition, making the new state observable.
func (r *Recorder) commit(to State) {
	r.mu.Lock()
	r.state = to
	r.transition = false
	r.tap.reset()
	r.mu.Unlock()
}

// Start begins a recording. Legal from Idle and Listening. The Recording
// state is only confirmed after the capture source reports a successful
// start; a failed start leaves the prior state untouched and returns an
// error matching [ErrDeviceUnavailable].
func (r *Recorder) Start(ctx context.Context) error {
	prev, err := r.begin(StateIdle, StateListening)
	if err != nil {
		return err
	}

	// Stage state is reset exactly once per session, here, while no
	// callback can be running.
	if fr, ok := r.source.(audio.FormatReporter); ok {
		rate, channels := fr.Format()
		if cfgErr := r.pipe.Configure(rate, channels); cfgErr != nil {
			r.commit(prev)
			return cfgErr
		}
	} else {
		r.pipe.Reset()
	}

	if startErr := r.source.Start(ctx, r.handleBlock); startErr != nil {
		r.commit(prev)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, startErr)
	}

	// Session span: spans the whole Recording→Processing lifetime, ended by
	// sessionDone with the outcome attached.
	_, span := observe.StartSpan(ctx, "recording.session")

	r.mu.Lock()
	r.state = StateRecording
	r.transition = false
	r.span = span
	r.startedAt = time.Now()
	r.tap.reset()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(ctx, 1)
	}
	observe.Logger(ctx).Info("recording started", "mode", string(r.mode))
	r.emit(Event{Type: EventStarted})
	return nil
}

// handleBlock is the capture callback. It reconfigures the chain if the
// delivered format disagrees with the configured one (sources that cannot
// report a format up front), then runs the block through the pipeline.
func (r *Recorder) handleBlock(samples []float32, channels, sampleRate int) {
	rate, ch := r.pipe.DeviceFormat()
	if rate != sampleRate || ch != channels {
		if err := r.pipe.Configure(sampleRate, channels); err != nil {
			return
		}
	}
	r.pipe.ProcessBlock(samples, channels)
}

// haltSource stops the capture source, bounded by the quiesce timeout.
func (r *Recorder) haltSource() error {
	done := make(chan error, 1)
	go func() { done <- r.source.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("recorder: stop capture: %w", err)
		}
		return nil
	case <-time.After(r.quiesceTimeout):
		return ErrQuiesceTimeout
	}
}

func (r *Recorder) metadataFor(sampleCount int) *Metadata {
	rate := r.pipe.TargetRate()
	return &Metadata{
		Duration:    time.Duration(sampleCount) * time.Second / time.Duration(rate),
		SampleCount: sampleCount,
		SampleRate:  rate,
	}
}

// finish records the completed (or abandoned) buffer for the consumer
// accessor and commits the resting state.
func (r *Recorder) finish(samples []float32, meta *Metadata, to State) {
	r.mu.Lock()
	r.last = samples
	r.lastMeta = meta
	r.state = to
	r.transition = false
	r.tap.reset()
	r.mu.Unlock()
}

// Stop finalizes the active recording: halt, quiesce, flush the stateful
// stages, drain the buffer, build metadata, emit the stopped event, and hand
// the samples to the encoder. Legal only from Recording.
//
// On quiesce timeout the session still finalizes — the drained buffer is
// preserved and retained — but stage flushing is skipped because the
// callback may still own that state, and [ErrQuiesceTimeout] is returned.
func (r *Recorder) Stop(ctx context.Context) (*Metadata, error) {
	if _, err := r.begin(StateRecording); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.state = StateProcessing
	started := r.startedAt
	r.mu.Unlock()

	log := observe.Logger(ctx)
	if err := r.haltSource(); err != nil {
		log.Warn("capture source did not quiesce, finalizing without flush", "err", err)
		samples := r.pipe.Drain()
		meta := r.metadataFor(len(samples))
		r.finish(samples, meta, r.restingState())
		r.emit(Event{Type: EventError, Err: err})
		r.sessionDone(ctx, "error", meta)
		return nil, err
	}

	if err := r.pipe.Flush(); err != nil {
		// Degraded but not fatal: the tail of the last hop is lost.
		log.Warn("pipeline flush failed", "err", err)
		r.emit(Event{Type: EventError, Err: &StageError{Stage: "flush", Err: err}})
	}

	samples := r.pipe.Drain()
	meta := r.metadataFor(len(samples))
	log.Info("recording stopped",
		"samples", meta.SampleCount,
		"duration", meta.Duration,
		"elapsed", time.Since(started).Round(time.Millisecond),
		"dropped", r.pipe.Dropped(),
	)
	r.emit(Event{Type: EventStopped, Metadata: meta})

	if r.encoder != nil && len(samples) > 0 {
		if err := r.encoder.Encode(ctx, samples, meta.SampleRate); err != nil {
			log.Error("encode failed", "err", err)
			r.emit(Event{Type: EventError, Err: &StageError{Stage: "encode", Err: err}})
		}
	}

	r.finish(samples, meta, r.restingState())
	r.sessionDone(ctx, "stopped", meta)
	return meta, nil
}

// Cancel discards the active recording without producing metadata or
// invoking the encoder. Legal only from Recording; it bypasses Processing
// and returns directly to the resting state.
func (r *Recorder) Cancel(ctx context.Context) error {
	if _, err := r.begin(StateRecording); err != nil {
		return err
	}

	haltErr := r.haltSource()
	r.pipe.Drain() // discard

	observe.Logger(ctx).Info("recording cancelled")
	r.emit(Event{Type: EventCancelled})
	r.finish(nil, nil, r.restingState())
	r.sessionDone(ctx, "cancelled", nil)

	if haltErr != nil {
		return haltErr
	}
	return nil
}

// sessionDone ends the session span and records end-of-session metrics.
func (r *Recorder) sessionDone(ctx context.Context, outcome string, meta *Metadata) {
	r.mu.Lock()
	span := r.span
	r.span = nil
	r.mu.Unlock()
	if span != nil {
		span.SetAttributes(observe.Attr("outcome", outcome))
		span.End()
	}

	if r.metrics == nil {
		return
	}
	r.metrics.ActiveSessions.Add(ctx, -1)
	var seconds float64
	if meta != nil {
		seconds = meta.Duration.Seconds()
	}
	r.metrics.RecordRecording(ctx, outcome, seconds)

	// Per-stage timings accumulate privately in the pipeline while capture
	// runs; publish them once now that the session has quiesced.
	for stage, d := range r.pipe.Diagnostics().StageTime {
		if d > 0 {
			r.metrics.RecordStageTime(ctx, stage, d.Seconds())
		}
	}
}

// Press records one physical trigger press. Two presses within the
// double-tap window during Recording collapse into exactly one cancel; any
// other press is a no-op.
func (r *Recorder) Press() {
	r.pressAt(time.Now())
}

func (r *Recorder) pressAt(t time.Time) {
	r.mu.Lock()
	if r.state != StateRecording || r.transition {
		r.tap.reset()
		r.mu.Unlock()
		return
	}
	fire := r.tap.press(t)
	r.mu.Unlock()

	if fire {
		// Lock released above: Cancel revalidates the state itself.
		if err := r.Cancel(context.Background()); err != nil {
			slog.Debug("double-tap cancel rejected", "err", err)
		}
	}
}

// DeviceLost reports an asynchronous capture failure mid-recording. The
// coordinator attempts a bounded reconnect; if every attempt fails it
// finalizes to Idle preserving whatever audio was buffered and emits an
// error event.
func (r *Recorder) DeviceLost(ctx context.Context) {
	r.mu.Lock()
	if r.state != StateRecording || r.transition {
		r.mu.Unlock()
		return
	}
	r.transition = true
	r.mu.Unlock()

	log := observe.Logger(ctx)
	log.Warn("capture device lost, attempting reconnect", "attempts", r.reconnectAttempts)

reconnect:
	for attempt := 1; attempt <= r.reconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			break reconnect
		case <-time.After(r.reconnectDelay):
		}
		if err := r.source.Start(ctx, r.handleBlock); err == nil {
			log.Info("capture device reconnected", "attempt", attempt)
			if r.metrics != nil {
				r.metrics.RecordReconnect(ctx, "ok")
			}
			r.commit(StateRecording)
			return
		}
		if r.metrics != nil {
			r.metrics.RecordReconnect(ctx, "failed")
		}
	}

	// Exhausted: finalize preserving buffered audio. Always Idle, even in
	// listening mode — an unusable device cannot keep listening.
	samples := r.pipe.Drain()
	meta := r.metadataFor(len(samples))
	log.Error("capture device not recovered, finalizing", "preserved_samples", len(samples))
	r.finish(samples, meta, StateIdle)
	r.emit(Event{Type: EventError, Err: ErrDeviceDisconnected})
	r.sessionDone(ctx, "error", meta)
}

// LastRecording returns the most recently completed buffer and its
// metadata, or nil when none exists. The slice is shared; callers must
// treat it as read-only.
func (r *Recorder) LastRecording() ([]float32, *Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.lastMeta
}

// Diagnostics exposes the pipeline health snapshot for the current or most
// recent session.
func (r *Recorder) Diagnostics() pipeline.Diagnostics {
	return r.pipe.Diagnostics()
}

// Run consumes trigger intents until ctx is cancelled, stopping any active
// recording on the way out. Invalid transitions requested by triggers are
// logged and dropped; they carry no side effects.
func (r *Recorder) Run(ctx context.Context, trigger audio.TriggerSource) error {
	for {
		select {
		case <-ctx.Done():
			if r.State() == StateRecording {
				if _, err := r.Stop(context.WithoutCancel(ctx)); err != nil {
					slog.Warn("stop on shutdown failed", "err", err)
				}
			}
			return ctx.Err()
		case intent, ok := <-trigger.Intents():
			if !ok {
				return nil
			}
			var err error
			switch intent {
			case audio.IntentStart:
				err = r.Start(ctx)
			case audio.IntentStop:
				_, err = r.Stop(ctx)
			case audio.IntentCancel:
				err = r.Cancel(ctx)
			}
			if err != nil {
				slog.Debug("trigger intent rejected", "intent", intent.String(), "err", err)
			}
		}
	}
}
