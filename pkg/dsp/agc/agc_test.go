package agc_test

import (
	"math"
	"testing"

	"github.com/clearmic/clearmic/pkg/audio"
	"github.com/clearmic/clearmic/pkg/dsp/agc"
)

const rate = 16000

func sine(freq float64, amp float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func TestQuietInputBoostedTowardTarget(t *testing.T) {
	t.Parallel()

	a := agc.New(agc.Config{}, rate)

	// -30 dBFS sine, 3 seconds: long enough for gain to settle.
	in := sine(440, audio.DbToLinear(-30), 3*rate)
	a.Process(in)

	// Measure the final second.
	outDb := audio.LinearToDb(audio.RMS(in[2*rate:]))

	// Target RMS of a sine at -12 dBFS peak-equivalent: the AGC drives the
	// envelope toward the -12 dB target, so the output must rise well above
	// the input level while staying within the max-gain bound (+20 dB).
	if outDb < -30+15 {
		t.Errorf("boosted level = %.1f dBFS, want at least ~-15 dBFS after gain", outDb)
	}
	if g := a.Gain(); g > audio.DbToLinear(agc.DefaultMaxGainDb)+1e-9 {
		t.Errorf("gain %v exceeds max-gain bound", g)
	}
}

func TestFullScaleInputNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	a := agc.New(agc.Config{}, rate)
	in := sine(440, 1.0, rate)
	a.Process(in)

	// The soft limiter maps everything below full scale; nothing may reach 1.0.
	for i, s := range in {
		if s >= 1.0 || s <= -1.0 {
			t.Fatalf("sample %d = %v reached full scale", i, s)
		}
	}
	if a.Limited() == 0 {
		t.Error("limiter never engaged on full-scale input")
	}
}

func TestDisabledIsBitIdentical(t *testing.T) {
	t.Parallel()

	in := sine(440, 0.05, 2048)
	want := make([]float32, len(in))
	copy(want, in)

	a := agc.New(agc.Config{Disabled: true}, rate)
	a.Process(in)

	for i := range in {
		if in[i] != want[i] {
			t.Fatalf("sample %d changed with AGC disabled: %v != %v", i, in[i], want[i])
		}
	}
	if a.Gain() != 1 {
		t.Errorf("gain = %v, want untouched unity", a.Gain())
	}
}

func TestSilenceNotBoosted(t *testing.T) {
	t.Parallel()

	a := agc.New(agc.Config{}, rate)
	in := make([]float32, 2*rate) // digital silence
	a.Process(in)

	if g := a.Gain(); g != 1 {
		t.Errorf("gain after silence = %v, want unity (no boost below noise floor)", g)
	}
	for i, s := range in {
		if s != 0 {
			t.Fatalf("sample %d = %v, want 0", i, s)
		}
	}
}

// TestTransientAttackAndRelease exercises the attack/release envelope: quiet signal,
// then a 0 dBFS transient. Gain must drop sharply during the transient and
// recover gradually afterwards.
func TestTransientAttackAndRelease(t *testing.T) {
	t.Parallel()

	a := agc.New(agc.Config{}, rate)

	// 2 s of -40 dBFS noise floor material.
	quiet := sine(300, audio.DbToLinear(-40), 2*rate)
	a.Process(quiet)
	gainBefore := a.Gain()

	// 100 ms full-scale burst.
	burst := sine(300, 1.0, rate/10)
	a.Process(burst)
	gainDuring := a.Gain()

	if gainDuring >= gainBefore {
		t.Fatalf("gain did not attack on transient: before=%.2f during=%.2f", gainBefore, gainDuring)
	}
	for i, s := range burst {
		if s >= 1.0 || s <= -1.0 {
			t.Fatalf("burst sample %d = %v exceeded the limiter ceiling envelope", i, s)
		}
	}

	// 200 ms of quiet again: release is gradual, so gain recovers some but
	// not all of the way back.
	quiet2 := sine(300, audio.DbToLinear(-40), rate/5)
	a.Process(quiet2)
	gainAfter := a.Gain()

	if gainAfter <= gainDuring {
		t.Errorf("gain did not start recovering: during=%.2f after=%.2f", gainDuring, gainAfter)
	}
	if gainAfter >= gainBefore {
		t.Errorf("gain recovered instantly: before=%.2f after=%.2f (release should be gradual)", gainBefore, gainAfter)
	}
}

func TestResetRestoresUnity(t *testing.T) {
	t.Parallel()

	a := agc.New(agc.Config{}, rate)
	a.Process(sine(440, 1.0, rate))
	a.Reset()

	if a.Gain() != 1 {
		t.Errorf("gain after Reset = %v, want 1", a.Gain())
	}
	if a.Limited() != 0 {
		t.Errorf("limited count after Reset = %d, want 0", a.Limited())
	}
}
