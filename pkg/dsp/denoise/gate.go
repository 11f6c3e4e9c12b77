package denoise

import "fmt"

// Built-in inference backends. These are classical recurrent estimators, not
// neural networks, but they satisfy the same capability contract so the
// suppressor is exercised end to end without model weights. A real model
// backend (ONNX, rnnoise bindings) plugs in behind the same [Inference]
// interface.

// spectralGate is the stage-1 backend: a recurrent per-bin noise-floor
// tracker producing a Wiener-style magnitude mask.
//
// State layout: Hidden = smoothed noise-floor magnitude per bin, Cell =
// smoothed signal magnitude per bin. Hidden is updated from the gate's own
// masked output so the floor estimate follows what the model lets through.
type spectralGate struct {
	bins int
	mask []float64

	// floorRise/floorFall are the asymmetric floor-tracking coefficients:
	// the floor climbs slowly toward the signal and falls quickly below it,
	// so speech onsets do not get absorbed into the noise estimate.
	floorRise float64
	floorFall float64

	// sigSmooth smooths the instantaneous magnitude before mask computation.
	sigSmooth float64

	// floorGain is the minimum mask value (maximum attenuation).
	floorGain float64

	// overSub is the over-subtraction factor applied to the floor estimate.
	overSub float64
}

// NewSpectralGate creates the built-in stage-1 backend for the given number
// of frequency bins.
func NewSpectralGate(bins int) Inference {
	return &spectralGate{
		bins:      bins,
		mask:      make([]float64, bins),
		floorRise: 0.005,
		floorFall: 0.3,
		sigSmooth: 0.6,
		floorGain: 0.1,
		overSub:   1.5,
	}
}

func (g *spectralGate) StateSize() int { return g.bins }

func (g *spectralGate) Infer(magnitude []float64, state *RecurrentState) ([]float64, error) {
	if len(magnitude) != g.bins {
		return nil, fmt.Errorf("denoise: spectral gate expects %d bins, got %d", g.bins, len(magnitude))
	}

	const eps = 1e-12
	for i, m := range magnitude {
		// Smooth the instantaneous magnitude.
		sig := g.sigSmooth*m + (1-g.sigSmooth)*state.Cell[i]
		state.Cell[i] = sig

		// Wiener-style mask against the over-subtracted floor estimate.
		floor := state.Hidden[i] * g.overSub
		den := sig*sig + floor*floor
		mask := g.floorGain
		if den > eps {
			mask = sig * sig / den
			if mask < g.floorGain {
				mask = g.floorGain
			}
		}
		g.mask[i] = mask

		// Recurrent floor update from the gate's own output.
		out := m * mask
		if out > state.Hidden[i] {
			state.Hidden[i] += g.floorRise * (out - state.Hidden[i])
		} else {
			state.Hidden[i] += g.floorFall * (out - state.Hidden[i])
		}
	}
	return g.mask, nil
}

// temporalSmoother is the stage-2 backend: a gentle recurrent one-pole
// smoother over the time-domain frame that suppresses isolated musical-noise
// spikes left behind by spectral masking.
//
// State layout: Hidden[0] carries the last smoothed sample across frames;
// Cell is unused.
type temporalSmoother struct {
	out []float64

	// blend is the dry/smoothed mix; 1 would bypass the smoother entirely.
	blend float64
}

// NewTemporalSmoother creates the built-in stage-2 backend for frames of the
// given length.
func NewTemporalSmoother(frameLen int) Inference {
	return &temporalSmoother{
		out:   make([]float64, frameLen),
		blend: 0.85,
	}
}

func (t *temporalSmoother) StateSize() int { return 1 }

func (t *temporalSmoother) Infer(frame []float64, state *RecurrentState) ([]float64, error) {
	if len(frame) != len(t.out) {
		return nil, fmt.Errorf("denoise: temporal smoother expects %d samples, got %d", len(t.out), len(frame))
	}
	h := state.Hidden[0]
	for i, x := range frame {
		y := t.blend*x + (1-t.blend)*h
		h = y
		t.out[i] = y
	}
	state.Hidden[0] = h
	return t.out, nil
}
