// Package agc implements automatic gain control for mono float32 PCM.
//
// The AGC tracks an exponentially smoothed RMS envelope of the input with
// independent attack and release time constants, computes the gain needed to
// reach a target level, clamps it to [unity, max gain], and smooths the gain
// itself to avoid audible pumping. A tanh soft limiter engages above the
// configured ceiling so boosted peaks never hard-clip.
//
// When disabled the processor is bit-identical passthrough.
package agc

import "math"

// Defaults, expressed the way the configuration surface documents them.
const (
	// DefaultTargetDb is the desired RMS level in dBFS.
	DefaultTargetDb = -12.0

	// DefaultMaxGainDb caps amplification of quiet input.
	DefaultMaxGainDb = 20.0

	// DefaultAttackMs is the envelope attack time constant.
	DefaultAttackMs = 10.0

	// DefaultReleaseMs is the envelope release time constant.
	DefaultReleaseMs = 150.0

	// DefaultCeilingDb is the soft-limiter engagement point in dBFS.
	DefaultCeilingDb = -3.0

	// minEnvelope suppresses gain updates below the noise floor so silence
	// is never boosted toward the target.
	minEnvelope = 1e-4
)

// Config holds AGC settings. Zero fields take the package defaults.
type Config struct {
	TargetDb  float64
	MaxGainDb float64
	AttackMs  float64
	ReleaseMs float64
	CeilingDb float64

	// Disabled turns the stage into bit-identical passthrough.
	Disabled bool
}

// AGC is a single-channel automatic gain control processor. State is owned
// exclusively by the callback execution context; Reset must only be called
// after the capture source has quiesced.
type AGC struct {
	target  float64
	maxGain float64
	ceiling float64

	attackCoeff  float64
	releaseCoeff float64
	gainCoeff    float64

	envSq   float64 // smoothed mean-square envelope
	gain    float64 // smoothed linear gain
	limited uint64  // samples shaped by the soft limiter

	disabled bool
}

// New creates an AGC for the given sample rate.
func New(cfg Config, sampleRate int) *AGC {
	target := cfg.TargetDb
	if target == 0 {
		target = DefaultTargetDb
	}
	maxGain := cfg.MaxGainDb
	if maxGain == 0 {
		maxGain = DefaultMaxGainDb
	}
	attack := cfg.AttackMs
	if attack == 0 {
		attack = DefaultAttackMs
	}
	release := cfg.ReleaseMs
	if release == 0 {
		release = DefaultReleaseMs
	}
	ceiling := cfg.CeilingDb
	if ceiling == 0 {
		ceiling = DefaultCeilingDb
	}

	fs := float64(sampleRate)
	return &AGC{
		target:       math.Pow(10, target/20),
		maxGain:      math.Pow(10, maxGain/20),
		ceiling:      math.Pow(10, ceiling/20),
		attackCoeff:  1 - math.Exp(-1000/(attack*fs)),
		releaseCoeff: 1 - math.Exp(-1000/(release*fs)),
		// Gain smoothing reuses the release time constant: fast enough to
		// track speech, slow enough to avoid zipper noise.
		gainCoeff: 1 - math.Exp(-1000/(release*fs)),
		gain:      1,
		disabled:  cfg.Disabled,
	}
}

// Process applies adaptive gain and soft limiting to samples in place.
func (a *AGC) Process(samples []float32) {
	if a.disabled {
		return
	}

	envSq, gain := a.envSq, a.gain
	for i, s := range samples {
		x := float64(s)

		// Envelope follower on the squared signal: attack when the level
		// rises, release when it falls.
		sq := x * x
		if sq > envSq {
			envSq += a.attackCoeff * (sq - envSq)
		} else {
			envSq += a.releaseCoeff * (sq - envSq)
		}

		// Desired gain toward target, clamped to [unity, maxGain]; skip the
		// update entirely on near-silence.
		env := math.Sqrt(envSq)
		if env >= minEnvelope {
			desired := a.target / env
			if desired < 1 {
				desired = 1
			} else if desired > a.maxGain {
				desired = a.maxGain
			}
			gain += a.gainCoeff * (desired - gain)
		}

		y := x * gain
		if y > a.ceiling || y < -a.ceiling {
			y = a.softLimit(y)
			a.limited++
		}
		samples[i] = float32(y)
	}
	a.envSq, a.gain = envSq, gain
}

// softLimit maps |y| in (ceiling, inf) smoothly into (ceiling, 1) using a
// tanh knee, so output never reaches full scale.
func (a *AGC) softLimit(y float64) float64 {
	sign := 1.0
	if y < 0 {
		sign = -1
	}
	over := math.Abs(y) - a.ceiling
	head := 1 - a.ceiling
	return sign * (a.ceiling + head*math.Tanh(over/head))
}

// Gain returns the current smoothed linear gain (informational).
func (a *AGC) Gain() float64 { return a.gain }

// Limited returns the number of samples shaped by the soft limiter.
func (a *AGC) Limited() uint64 { return a.limited }

// Reset restores unity gain and clears the envelope and limiter counter.
// Call once per new session, after the capture source has quiesced.
func (a *AGC) Reset() {
	a.envSq = 0
	a.gain = 1
	a.limited = 0
}
