// Package malgo adapts the miniaudio capture API (via gen2brain/malgo) to
// the [audio.CaptureSource] interface.
//
// The device format is probed once at construction so the enhancement chain
// can be configured before the first callback. Samples are delivered as
// interleaved float32 at the device-native rate; all rate conversion happens
// downstream.
package malgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	ma "github.com/gen2brain/malgo"

	"github.com/clearmic/clearmic/pkg/audio"
)

// defaultPeriodMs is the requested hardware period. 32 ms keeps callback
// blocks small enough for low-latency monitoring without starving the
// pipeline.
const defaultPeriodMs = 32

// Options configures a capture [Source]. Zero values let the device pick.
type Options struct {
	// SampleRate is the requested rate. The device may deliver a different
	// one; Format reports what was actually negotiated.
	SampleRate int

	// Channels is the requested interleaved channel count.
	Channels int

	// OnDeviceLost is invoked from the device thread when capture stops
	// without an explicit Stop call (device unplugged, backend reset). May
	// be nil.
	OnDeviceLost func()
}

// Source is a miniaudio-backed capture source. It implements
// [audio.CaptureSource] and [audio.FormatReporter].
type Source struct {
	actx *ma.AllocatedContext
	opts Options

	rate     int
	channels int

	mu      sync.Mutex
	device  *ma.Device
	running bool
	scratch []float32
}

// NewSource initializes the miniaudio context and probes the default capture
// device's negotiated format. The caller must Close the source when done.
func NewSource(opts Options) (*Source, error) {
	actx, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	s := &Source{actx: actx, opts: opts}

	// Probe with a throwaway device: the backend may override both the rate
	// and the channel count we asked for.
	probe, err := ma.InitDevice(actx.Context, s.deviceConfig(), ma.DeviceCallbacks{})
	if err != nil {
		_ = actx.Uninit()
		actx.Free()
		return nil, fmt.Errorf("malgo: probe capture device: %w", err)
	}
	s.rate = int(probe.SampleRate())
	s.channels = int(probe.CaptureChannels())
	probe.Uninit()

	return s, nil
}

func (s *Source) deviceConfig() ma.DeviceConfig {
	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatF32
	if s.opts.Channels > 0 {
		cfg.Capture.Channels = uint32(s.opts.Channels)
	}
	if s.opts.SampleRate > 0 {
		cfg.SampleRate = uint32(s.opts.SampleRate)
	}
	cfg.PeriodSizeInMilliseconds = defaultPeriodMs
	return cfg
}

// SetDeviceLostHandler replaces the device-loss callback. Call before Start.
func (s *Source) SetDeviceLostHandler(fn func()) {
	s.opts.OnDeviceLost = fn
}

// Format returns the negotiated device sample rate and channel count.
func (s *Source) Format() (sampleRate, channels int) {
	return s.rate, s.channels
}

// Start opens the default capture device and begins delivering blocks to cb.
func (s *Source) Start(_ context.Context, cb audio.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("malgo: capture already running")
	}

	onData := func(_, input []byte, frameCount uint32) {
		n := int(frameCount) * s.channels
		if cap(s.scratch) < n {
			s.scratch = make([]float32, n)
		}
		samples := s.scratch[:n]
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
		}
		cb(samples, s.channels, s.rate)
	}

	onStop := func() {
		s.mu.Lock()
		lost := s.running
		s.mu.Unlock()
		if lost && s.opts.OnDeviceLost != nil {
			s.opts.OnDeviceLost()
		}
	}

	device, err := ma.InitDevice(s.actx.Context, s.deviceConfig(), ma.DeviceCallbacks{
		Data: onData,
		Stop: onStop,
	})
	if err != nil {
		return fmt.Errorf("malgo: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("malgo: start capture device: %w", err)
	}

	s.device = device
	s.running = true
	return nil
}

// Stop halts capture. device.Stop returns only after the device thread has
// quiesced, so no callback is in flight when Stop returns.
func (s *Source) Stop() error {
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.running = false
	s.mu.Unlock()

	if device == nil {
		return nil
	}
	if err := device.Stop(); err != nil {
		device.Uninit()
		return fmt.Errorf("malgo: stop capture device: %w", err)
	}
	device.Uninit()
	return nil
}

// Close stops capture and releases the miniaudio context.
func (s *Source) Close() error {
	stopErr := s.Stop()
	if s.actx != nil {
		if err := s.actx.Uninit(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("malgo: uninit context: %w", err)
		}
		s.actx.Free()
		s.actx = nil
	}
	return stopErr
}
