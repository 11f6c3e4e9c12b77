// Package filter implements the stateful preprocessing filters applied to
// mono audio before resampling: a second-order highpass for rumble removal
// and a first-order pre-emphasis boost for speech intelligibility.
//
// Both filters carry scalar state across calls and must be Reset at the
// start of every recording session. Bypassed filters are bit-identical
// passthrough.
package filter

import "math"

// butterworthQ is the maximally flat passband Q for a 2-pole filter.
const butterworthQ = 0.70710678118654752

// Highpass is an RBJ-cookbook biquad highpass in transposed direct form II.
// State is two scalars, exclusively owned by the caller's execution context.
type Highpass struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
	bypass     bool
}

// NewHighpass creates a Butterworth highpass with the given cutoff at the
// given sample rate. Bypass produces bit-identical passthrough.
func NewHighpass(cutoffHz float64, sampleRate int, bypass bool) *Highpass {
	h := &Highpass{bypass: bypass}

	w0 := 2 * math.Pi * cutoffHz / float64(sampleRate)
	cosW := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * butterworthQ)

	a0 := 1 + alpha
	h.b0 = (1 + cosW) / 2 / a0
	h.b1 = -(1 + cosW) / a0
	h.b2 = (1 + cosW) / 2 / a0
	h.a1 = -2 * cosW / a0
	h.a2 = (1 - alpha) / a0
	return h
}

// Process filters samples in place.
func (h *Highpass) Process(samples []float32) {
	if h.bypass {
		return
	}
	z1, z2 := h.z1, h.z2
	for i, s := range samples {
		x := float64(s)
		y := h.b0*x + z1
		z1 = h.b1*x - h.a1*y + z2
		z2 = h.b2*x - h.a2*y
		samples[i] = float32(y)
	}
	h.z1, h.z2 = z1, z2
}

// Reset zeroes the filter history.
func (h *Highpass) Reset() {
	h.z1, h.z2 = 0, 0
}

// Preemphasis is the first-order filter y[n] = x[n] - alpha*x[n-1].
// It boosts content above roughly 300 Hz, which improves downstream
// speech-recognition accuracy. One scalar of state.
type Preemphasis struct {
	alpha  float64
	prev   float64
	bypass bool
}

// NewPreemphasis creates a pre-emphasis filter with the given coefficient
// (0.97 is the common speech default).
func NewPreemphasis(alpha float64, bypass bool) *Preemphasis {
	return &Preemphasis{alpha: alpha, bypass: bypass}
}

// Process filters samples in place.
func (p *Preemphasis) Process(samples []float32) {
	if p.bypass {
		return
	}
	prev := p.prev
	for i, s := range samples {
		x := float64(s)
		samples[i] = float32(x - p.alpha*prev)
		prev = x
	}
	p.prev = prev
}

// Reset zeroes the stored previous sample.
func (p *Preemphasis) Reset() {
	p.prev = 0
}

// Config holds the filter chain settings.
type Config struct {
	// HighpassCutoffHz is the rumble-removal cutoff. Default 80 Hz.
	HighpassCutoffHz float64

	// PreemphasisAlpha is the pre-emphasis coefficient. Default 0.97.
	PreemphasisAlpha float64

	// BypassHighpass disables the highpass stage.
	BypassHighpass bool

	// BypassPreemphasis disables the pre-emphasis stage.
	BypassPreemphasis bool
}

// Chain applies highpass then pre-emphasis, in that fixed order.
type Chain struct {
	hp  *Highpass
	pre *Preemphasis
}

// NewChain builds the filter chain for a session at the device sample rate.
func NewChain(cfg Config, sampleRate int) *Chain {
	cutoff := cfg.HighpassCutoffHz
	if cutoff == 0 {
		cutoff = 80
	}
	alpha := cfg.PreemphasisAlpha
	if alpha == 0 {
		alpha = 0.97
	}
	return &Chain{
		hp:  NewHighpass(cutoff, sampleRate, cfg.BypassHighpass),
		pre: NewPreemphasis(alpha, cfg.BypassPreemphasis),
	}
}

// Process runs both filters in place.
func (c *Chain) Process(samples []float32) {
	c.hp.Process(samples)
	c.pre.Process(samples)
}

// Reset zeroes all filter state. Call once per new session.
func (c *Chain) Reset() {
	c.hp.Reset()
	c.pre.Reset()
}
