// Package denoise implements a two-stage frame-based noise suppressor for
// mono float32 PCM at the pipeline target rate.
//
// Input accumulates in a sliding analysis frame advanced by a fixed hop
// (75 % overlap by default). Each full hop triggers one pipeline run:
// windowed FFT, stage-1 inference producing a multiplicative magnitude mask,
// masked spectrum recombined with the original phase, inverse FFT, stage-2
// time-domain refinement, and overlap-add against the retained tail of the
// previous frame. Algorithmic latency equals one frame length (~32 ms at
// 16 kHz with the default 512-sample frame).
//
// Both inference stages are capability interfaces ([Inference]) with
// independent recurrent state, so the suppressor is agnostic to the concrete
// model backend. Built-in classical backends are provided.
package denoise

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Defaults for the frame geometry at 16 kHz.
const (
	// DefaultFrameLen is the analysis frame length in samples.
	DefaultFrameLen = 512

	// DefaultHop is the frame advance per pipeline run (75 % overlap).
	DefaultHop = 128
)

// Config holds suppressor settings. Zero fields take package defaults; nil
// inference stages take the built-in backends.
type Config struct {
	FrameLen int
	Hop      int

	// Stage1 maps a magnitude spectrum (FrameLen/2+1 bins) to a mask.
	Stage1 Inference

	// Stage2 refines the reconstructed time-domain frame.
	Stage2 Inference

	// Disabled turns the stage into bit-identical passthrough.
	Disabled bool
}

// Suppressor is the streaming two-stage denoiser. All state is owned by the
// callback execution context; Reset must only be called after the capture
// source has quiesced.
type Suppressor struct {
	frameLen int
	hop      int
	disabled bool

	fft    *fourier.FFT
	window []float64 // sqrt-Hann analysis/synthesis window
	norm   []float64 // per-hop-position COLA normalisation

	stage1, stage2 Inference
	st1, st2       *RecurrentState

	pending []float32 // input awaiting a full hop
	frame   []float64 // sliding analysis frame (always frameLen long)
	ola     []float64 // overlap-add accumulator (frameLen long)

	spec      []complex128
	magnitude []float64
	phase     []float64
	windowed  []float64
	timeBuf   []float64
	out       []float32

	// skip counts leading latency samples not yet discarded from output.
	skip int
}

// New creates a Suppressor. Hop must divide FrameLen.
func New(cfg Config) (*Suppressor, error) {
	frameLen := cfg.FrameLen
	if frameLen == 0 {
		frameLen = DefaultFrameLen
	}
	hop := cfg.Hop
	if hop == 0 {
		hop = DefaultHop
	}
	if hop <= 0 || frameLen <= 0 || frameLen%hop != 0 {
		return nil, fmt.Errorf("denoise: hop %d must evenly divide frame length %d", hop, frameLen)
	}

	bins := frameLen/2 + 1
	stage1 := cfg.Stage1
	if stage1 == nil {
		stage1 = NewSpectralGate(bins)
	}
	stage2 := cfg.Stage2
	if stage2 == nil {
		stage2 = NewTemporalSmoother(frameLen)
	}

	s := &Suppressor{
		frameLen:  frameLen,
		hop:       hop,
		disabled:  cfg.Disabled,
		fft:       fourier.NewFFT(frameLen),
		window:    make([]float64, frameLen),
		norm:      make([]float64, hop),
		stage1:    stage1,
		stage2:    stage2,
		st1:       NewRecurrentState(stage1.StateSize()),
		st2:       NewRecurrentState(stage2.StateSize()),
		frame:     make([]float64, frameLen),
		ola:       make([]float64, frameLen),
		spec:      make([]complex128, bins),
		magnitude: make([]float64, bins),
		phase:     make([]float64, bins),
		windowed:  make([]float64, frameLen),
		timeBuf:   make([]float64, frameLen),
		skip:      frameLen,
	}

	// sqrt-Hann: applied at analysis and synthesis, the product is Hann,
	// which satisfies constant overlap-add at 75 % overlap.
	for i := range s.window {
		s.window[i] = math.Sqrt(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(frameLen))))
	}
	// Steady-state normalisation per hop position.
	for n := 0; n < hop; n++ {
		var sum float64
		for k := n; k < frameLen; k += hop {
			sum += s.window[k] * s.window[k]
		}
		s.norm[n] = sum
	}

	return s, nil
}

// Latency returns the algorithmic delay in samples (one frame).
func (s *Suppressor) Latency() int { return s.frameLen }

// Process consumes in and returns zero or more denoised samples. The
// returned slice is reused between calls and must be consumed before the
// next Process or Flush.
func (s *Suppressor) Process(in []float32) []float32 {
	if s.disabled {
		return in
	}
	s.out = s.out[:0]
	s.pending = append(s.pending, in...)
	for len(s.pending) >= s.hop {
		s.runHop(s.pending[:s.hop])
		s.pending = s.pending[:copy(s.pending, s.pending[s.hop:])]
	}
	return s.out
}

// Flush zero-pads the remaining input and drains the overlap-add tail so no
// captured samples are lost at session stop. Call exactly once, then Reset
// before reuse.
func (s *Suppressor) Flush() []float32 {
	if s.disabled {
		return nil
	}
	s.out = s.out[:0]

	// Pad the partial hop, then push one full frame of silence through to
	// flush the latency tail.
	if len(s.pending) > 0 {
		pad := make([]float32, s.hop-len(s.pending))
		s.pending = append(s.pending, pad...)
		s.runHop(s.pending[:s.hop])
		s.pending = s.pending[:0]
	}
	zero := make([]float32, s.hop)
	for n := 0; n < s.frameLen/s.hop; n++ {
		s.runHop(zero)
	}
	return s.out
}

// runHop slides the analysis frame by one hop and runs the full pipeline,
// appending hop output samples to s.out (minus any remaining latency skip).
func (s *Suppressor) runHop(hopIn []float32) {
	// Slide and append.
	copy(s.frame, s.frame[s.hop:])
	base := s.frameLen - s.hop
	for i, v := range hopIn {
		s.frame[base+i] = float64(v)
	}

	// Analysis window + forward transform.
	for i, v := range s.frame {
		s.windowed[i] = v * s.window[i]
	}
	s.fft.Coefficients(s.spec, s.windowed)

	// Magnitude / phase split.
	for i, c := range s.spec {
		re, im := real(c), imag(c)
		s.magnitude[i] = math.Hypot(re, im)
		s.phase[i] = math.Atan2(im, re)
	}

	// Stage 1: magnitude -> mask, conditioned on its own recurrent state.
	mask, err := s.stage1.Infer(s.magnitude, s.st1)
	if err != nil {
		// A failing model degrades to passthrough for this frame.
		mask = nil
	}

	// Apply mask, recombine with the original phase.
	for i := range s.spec {
		m := s.magnitude[i]
		if mask != nil {
			m *= mask[i]
		}
		s.spec[i] = complex(m*math.Cos(s.phase[i]), m*math.Sin(s.phase[i]))
	}

	// Inverse transform (gonum's Sequence is unnormalised).
	s.fft.Sequence(s.timeBuf, s.spec)
	invN := 1 / float64(s.frameLen)
	for i := range s.timeBuf {
		s.timeBuf[i] *= invN
	}

	// Stage 2: time-domain refinement with its independent state.
	refined, err := s.stage2.Infer(s.timeBuf, s.st2)
	if err != nil {
		refined = s.timeBuf
	}

	// Synthesis window + overlap-add into the retained tail.
	for i, v := range refined {
		s.ola[i] += v * s.window[i]
	}

	// Emit one hop of normalised output, then slide the accumulator.
	for n := 0; n < s.hop; n++ {
		if s.skip > 0 {
			s.skip--
			continue
		}
		s.out = append(s.out, float32(s.ola[n]/s.norm[n]))
	}
	copy(s.ola, s.ola[s.hop:])
	for i := s.frameLen - s.hop; i < s.frameLen; i++ {
		s.ola[i] = 0
	}
}

// Reset zeroes the frame buffer, overlap-add tail, pending input, and both
// recurrent states. Must be called exactly once per new session.
func (s *Suppressor) Reset() {
	for i := range s.frame {
		s.frame[i] = 0
	}
	for i := range s.ola {
		s.ola[i] = 0
	}
	s.pending = s.pending[:0]
	s.out = s.out[:0]
	s.skip = s.frameLen
	s.st1.Zero()
	s.st2.Zero()
}
