// Package mock provides scripted audio collaborators for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/clearmic/clearmic/pkg/audio"
)

// Source is a scripted [audio.CaptureSource]. Tests drive it by calling
// [Source.Feed], which invokes the registered callback synchronously on the
// caller's goroutine.
type Source struct {
	mu       sync.Mutex
	rate     int
	channels int
	cb       audio.Callback
	started  bool

	// cbMu serializes callback invocations the way a real device period
	// does, and lets Stop wait out an in-flight callback (quiescence).
	cbMu sync.Mutex

	// StartErr, when non-nil, is returned by Start without starting.
	StartErr error

	// FailStarts makes the next N Start calls fail with a transient error,
	// then succeed. Used to exercise reconnect paths.
	FailStarts int

	// StopDelay makes Stop sleep before confirming, simulating a slow
	// quiesce.
	StopDelay time.Duration

	starts, stops int
}

// NewSource creates a Source reporting the given device format.
func NewSource(sampleRate, channels int) *Source {
	return &Source{rate: sampleRate, channels: channels}
}

// Format reports the device format, satisfying [audio.FormatReporter].
func (s *Source) Format() (sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate, s.channels
}

// Start registers the callback and marks the source running.
func (s *Source) Start(_ context.Context, cb audio.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.FailStarts > 0 {
		s.FailStarts--
		return errors.New("mock: device busy")
	}
	s.cb = cb
	s.started = true
	s.starts++
	return nil
}

// Stop marks the source stopped after an optional [Source.StopDelay].
func (s *Source) Stop() error {
	s.mu.Lock()
	delay := s.StopDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	s.mu.Lock()
	s.started = false
	s.stops++
	s.mu.Unlock()

	// Wait for any in-flight callback before confirming, matching the
	// CaptureSource quiescence contract.
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	return nil
}

// Feed delivers one block to the registered callback. It is a no-op when the
// source is not running. Concurrent Feed calls are serialized, matching the
// single callback execution context of a real device.
func (s *Source) Feed(samples []float32) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.mu.Lock()
	cb, running := s.cb, s.started
	rate, channels := s.rate, s.channels
	s.mu.Unlock()
	if running && cb != nil {
		cb(samples, channels, rate)
	}
}

// Started reports whether the source is currently running.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Counts returns how many times Start and Stop have succeeded.
func (s *Source) Counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

// Encoder records every Encode call for later assertion.
type Encoder struct {
	mu    sync.Mutex
	calls [][]float32
	rates []int

	// Err, when non-nil, is returned by Encode.
	Err error
}

// Encode stores a copy of the samples.
func (e *Encoder) Encode(_ context.Context, samples []float32, sampleRate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	e.calls = append(e.calls, cp)
	e.rates = append(e.rates, sampleRate)
	return nil
}

// Calls returns the recorded sample blocks.
func (e *Encoder) Calls() [][]float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
