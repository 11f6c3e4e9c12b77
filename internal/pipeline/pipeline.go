// Package pipeline owns the capture-callback enhancement chain: channel
// downmix, preprocessing filters, sample-rate conversion, noise suppression,
// and automatic gain control, ending in a lock-free handoff buffer.
//
// ProcessBlock runs on the capture execution context and must never block:
// it takes no locks, performs no I/O, and reuses its scratch buffers between
// calls. The control side interacts only through Configure, Flush, Drain,
// Reset, and Diagnostics, and must do so only while capture is stopped.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/clearmic/clearmic/internal/observe"
	"github.com/clearmic/clearmic/pkg/audio/ringbuf"
	"github.com/clearmic/clearmic/pkg/dsp/agc"
	"github.com/clearmic/clearmic/pkg/dsp/denoise"
	"github.com/clearmic/clearmic/pkg/dsp/filter"
	"github.com/clearmic/clearmic/pkg/dsp/mixer"
)

// DefaultTargetRate is the output sample rate of the enhancement chain.
const DefaultTargetRate = 16000

// DefaultBufferSeconds sizes the capture buffer at the target rate.
const DefaultBufferSeconds = 300

// Config assembles the per-stage settings. Zero fields take defaults.
type Config struct {
	// TargetRate is the output sample rate. Default 16000.
	TargetRate int

	// BufferSeconds sizes the capture ring buffer at the target rate.
	// Default 300 (five minutes).
	BufferSeconds int

	// MixerPolicy selects the multi-channel downmix behaviour. Default
	// [mixer.PolicyAverageAll].
	MixerPolicy mixer.Policy

	Filter  filter.Config
	Denoise denoise.Config
	AGC     agc.Config

	// Metrics receives per-callback instrumentation when non-nil.
	Metrics *observe.Metrics
}

// Pipeline is the enhancement chain for one capture device. Construct with
// [New], then call [Pipeline.Configure] with the negotiated device format
// before the first callback.
type Pipeline struct {
	targetRate int
	filterCfg  filter.Config

	mix     *mixer.Mixer
	filters *filter.Chain
	res     *resampleStage
	den     *denoise.Suppressor
	gain    *agc.AGC
	ring    *ringbuf.Ring

	metrics *observe.Metrics
	stats   stats

	monoScratch []float32
	deviceRate  int
	channels    int
}

// New builds the device-rate-independent stages. The filter chain and
// resampler are created by [Pipeline.Configure] once the device format is
// known.
func New(cfg Config) (*Pipeline, error) {
	targetRate := cfg.TargetRate
	if targetRate == 0 {
		targetRate = DefaultTargetRate
	}
	if targetRate < 0 {
		return nil, fmt.Errorf("pipeline: invalid target rate %d", targetRate)
	}
	bufSeconds := cfg.BufferSeconds
	if bufSeconds == 0 {
		bufSeconds = DefaultBufferSeconds
	}

	policy := cfg.MixerPolicy
	if policy == "" {
		policy = mixer.PolicyAverageAll
	}
	mix, err := mixer.New(policy)
	if err != nil {
		return nil, err
	}

	den, err := denoise.New(cfg.Denoise)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		targetRate: targetRate,
		filterCfg:  cfg.Filter,
		mix:        mix,
		den:        den,
		gain:       agc.New(cfg.AGC, targetRate),
		ring:       ringbuf.New(bufSeconds * targetRate),
		metrics:    cfg.Metrics,
	}, nil
}

// Configure prepares the rate-dependent stages for the negotiated device
// format. Must be called while capture is stopped; it implies a full state
// reset.
func (p *Pipeline) Configure(deviceRate, channels int) error {
	if deviceRate <= 0 {
		return fmt.Errorf("pipeline: invalid device rate %d", deviceRate)
	}
	if channels <= 0 {
		return fmt.Errorf("pipeline: invalid channel count %d", channels)
	}
	res, err := newResampleStage(deviceRate, p.targetRate)
	if err != nil {
		return err
	}
	p.deviceRate = deviceRate
	p.channels = channels
	p.filters = filter.NewChain(p.filterCfg, deviceRate)
	p.res = res
	p.Reset()
	return nil
}

// TargetRate returns the output sample rate of the chain.
func (p *Pipeline) TargetRate() int { return p.targetRate }

// DeviceFormat returns the format the chain was last configured for, or
// zeros when Configure has not been called.
func (p *Pipeline) DeviceFormat() (sampleRate, channels int) {
	return p.deviceRate, p.channels
}

// Latency returns the fixed algorithmic delay of the chain in samples at the
// target rate.
func (p *Pipeline) Latency() int { return p.den.Latency() }

// guard runs one stage with panic containment and timing. A panicking stage
// is counted and treated as a no-op for this block; the chain continues with
// the stage's input.
func (p *Pipeline) guard(stageIdx int, fn func()) (ok bool) {
	start := time.Now()
	defer func() {
		p.stats.addStageTime(stageIdx, time.Since(start))
		if r := recover(); r != nil {
			p.stats.stageErrors.Add(1)
			if p.metrics != nil {
				p.metrics.RecordStageError(context.Background(), stageNames[stageIdx])
			}
		}
	}()
	fn()
	return true
}

// stageFailed records a non-panic stage error.
func (p *Pipeline) stageFailed(stageIdx int) {
	p.stats.stageErrors.Add(1)
	if p.metrics != nil {
		p.metrics.RecordStageError(context.Background(), stageNames[stageIdx])
	}
}

// ProcessBlock runs one capture callback's samples through the chain and
// writes the result to the capture buffer. It is the body of the device
// callback: non-blocking, allocation-free in steady state, and never
// panics past this frame.
func (p *Pipeline) ProcessBlock(samples []float32, channels int) {
	t0 := time.Now()
	p.stats.callbacks.Add(1)

	// Downmix to mono. For mono input the mixer returns the device buffer
	// itself; subsequent in-place stages may write to it, which is fine for
	// the duration of the callback.
	mono := samples
	p.guard(stageIndex(StageMix), func() {
		out := p.mix.Downmix(p.monoScratch, samples, channels)
		if channels > 1 {
			p.monoScratch = out
		}
		mono = out
	})
	p.stats.observeInput(mono)

	// Preprocessing filters, in place at the device rate.
	p.guard(stageIndex(StageFilter), func() {
		p.filters.Process(mono)
	})

	// Rate conversion. A failure here cannot pass through at the wrong
	// rate, so the block is muted instead.
	var resampled []float32
	idx := stageIndex(StageResample)
	if ok := p.guard(idx, func() {
		out, err := p.res.Process(mono)
		if err != nil {
			panic(err)
		}
		resampled = out
	}); !ok || len(resampled) == 0 {
		p.finishBlock(t0)
		return
	}

	// Noise suppression. Backend inference errors degrade to passthrough
	// inside the suppressor; a panic passes the resampled block through.
	enhanced := resampled
	p.guard(stageIndex(StageDenoise), func() {
		enhanced = p.den.Process(resampled)
	})

	// Gain control, in place.
	limitedBefore := p.gain.Limited()
	p.guard(stageIndex(StageAGC), func() {
		p.gain.Process(enhanced)
	})
	if p.metrics != nil {
		if d := p.gain.Limited() - limitedBefore; d > 0 {
			p.metrics.LimitedSamples.Add(context.Background(), int64(d))
		}
	}

	p.stats.observeOutput(enhanced)
	p.write(enhanced)
	p.finishBlock(t0)
}

// write hands samples to the capture buffer and accounts for overflow.
func (p *Pipeline) write(samples []float32) {
	written := p.ring.Write(samples)
	if p.metrics != nil && written < len(samples) {
		p.metrics.DroppedSamples.Add(context.Background(), int64(len(samples)-written))
	}
}

func (p *Pipeline) finishBlock(t0 time.Time) {
	if p.metrics != nil {
		p.metrics.CallbackDuration.Record(context.Background(), time.Since(t0).Seconds())
	}
}

// Flush drains the stateful stages after capture has stopped: the
// resampler's carried samples pass through the suppressor, then the
// suppressor's buffered tail is emitted, both through the gain stage into
// the capture buffer. Call only after the capture source has quiesced.
func (p *Pipeline) Flush() error {
	if p.res == nil {
		// Configure never ran: no callback was delivered, so there is no
		// stage state to drain.
		return nil
	}
	tail, err := p.res.Flush()
	if err != nil {
		p.stageFailed(stageIndex(StageResample))
		return fmt.Errorf("pipeline: flush resampler: %w", err)
	}
	if len(tail) > 0 {
		out := p.den.Process(tail)
		p.gain.Process(out)
		p.stats.observeOutput(out)
		p.write(out)
	}
	if out := p.den.Flush(); len(out) > 0 {
		p.gain.Process(out)
		p.stats.observeOutput(out)
		p.write(out)
	}
	return nil
}

// Drain copies out everything accumulated in the capture buffer.
func (p *Pipeline) Drain() []float32 {
	return p.ring.Drain()
}

// Dropped reports samples lost to capture buffer overflow.
func (p *Pipeline) Dropped() uint64 {
	return p.ring.Dropped()
}

// Reset returns every stage to its initial state for a fresh session.
// Call exactly once per session, after quiescence and before the first
// callback of the next session.
func (p *Pipeline) Reset() {
	if p.filters != nil {
		p.filters.Reset()
	}
	if p.res != nil {
		p.res.Reset()
	}
	p.den.Reset()
	p.gain.Reset()
	p.ring.Reset()
	p.stats.reset()
}

// Diagnostics returns a snapshot of the session's pipeline health. The
// signal-level fields are only coherent after the capture source has
// quiesced; the counters are safe to read at any time.
func (p *Pipeline) Diagnostics() Diagnostics {
	d := Diagnostics{
		Callbacks:      p.stats.callbacks.Load(),
		StageErrors:    p.stats.stageErrors.Load(),
		DroppedSamples: p.ring.Dropped(),
		LimitedSamples: p.gain.Limited(),
		InputPeak:      p.stats.inPeak,
		OutputPeak:     p.stats.outPeak,
		AppliedGain:    p.gain.Gain(),
		StageTime:      make(map[string]time.Duration, len(stageNames)),
	}
	if p.stats.inCount > 0 {
		d.InputRMS = rmsFromSumSq(p.stats.inSumSq, p.stats.inCount)
	}
	if p.stats.outCount > 0 {
		d.OutputRMS = rmsFromSumSq(p.stats.outSumSq, p.stats.outCount)
	}
	for i, name := range stageNames {
		d.StageTime[name] = time.Duration(p.stats.stageTime[i].Load())
	}
	return d
}
