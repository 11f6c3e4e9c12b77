package filter_test

import (
	"math"
	"testing"

	"github.com/clearmic/clearmic/pkg/audio"
	"github.com/clearmic/clearmic/pkg/dsp/filter"
)

// sine generates n samples of a tone at freq Hz.
func sine(freq float64, sampleRate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// steadyRMS measures RMS over the second half of the block, skipping the
// filter's transient settle time.
func steadyRMS(samples []float32) float64 {
	return audio.RMS(samples[len(samples)/2:])
}

func TestHighpassAttenuation(t *testing.T) {
	t.Parallel()

	const rate = 48000
	tests := []struct {
		name      string
		freq      float64
		maxLossDb float64 // tone must pass within this loss
		minLossDb float64 // or be attenuated at least this much
	}{
		{"50Hz rumble rejected", 50, 0, 40},
		{"200Hz speech passes", 200, 1, 0},
		{"1kHz unaffected", 1000, 0.1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in := sine(tt.freq, rate, rate) // 1 s
			inRMS := steadyRMS(in)

			hp := filter.NewHighpass(80, rate, false)
			hp.Process(in)
			outRMS := steadyRMS(in)

			lossDb := audio.LinearToDb(inRMS) - audio.LinearToDb(outRMS)
			if tt.minLossDb > 0 && lossDb < tt.minLossDb {
				t.Errorf("attenuation = %.1f dB, want at least %.1f dB", lossDb, tt.minLossDb)
			}
			if tt.maxLossDb > 0 && lossDb > tt.maxLossDb {
				t.Errorf("loss = %.2f dB, want at most %.2f dB", lossDb, tt.maxLossDb)
			}
		})
	}
}

func TestBypassIsBitIdentical(t *testing.T) {
	t.Parallel()

	in := sine(440, 16000, 1024)
	want := make([]float32, len(in))
	copy(want, in)

	c := filter.NewChain(filter.Config{
		BypassHighpass:    true,
		BypassPreemphasis: true,
	}, 16000)
	c.Process(in)

	for i := range in {
		if in[i] != want[i] {
			t.Fatalf("sample %d changed under bypass: %v != %v", i, in[i], want[i])
		}
	}
}

func TestPreemphasisDifference(t *testing.T) {
	t.Parallel()

	p := filter.NewPreemphasis(0.97, false)
	in := []float32{1, 1, 1, 1}
	p.Process(in)

	// First sample has no history; the rest are x - 0.97*x_prev = 0.03.
	if in[0] != 1 {
		t.Errorf("first sample = %v, want 1", in[0])
	}
	for i := 1; i < len(in); i++ {
		if math.Abs(float64(in[i])-0.03) > 1e-6 {
			t.Errorf("sample %d = %v, want 0.03", i, in[i])
		}
	}
}

// TestStateCarriesAcrossCalls feeds the same signal in one block and in two
// halves; outputs must match exactly because state persists between calls.
func TestStateCarriesAcrossCalls(t *testing.T) {
	t.Parallel()

	const rate = 16000
	whole := sine(700, rate, 512)
	split := make([]float32, len(whole))
	copy(split, whole)

	a := filter.NewChain(filter.Config{}, rate)
	a.Process(whole)

	b := filter.NewChain(filter.Config{}, rate)
	b.Process(split[:200])
	b.Process(split[200:])

	for i := range whole {
		if whole[i] != split[i] {
			t.Fatalf("sample %d differs between whole and split processing: %v != %v", i, whole[i], split[i])
		}
	}
}

// TestResetRestoresDeterminism verifies that Reset fully clears history so a
// new session sees identical output for identical input.
func TestResetRestoresDeterminism(t *testing.T) {
	t.Parallel()

	const rate = 16000
	in1 := sine(300, rate, 256)
	in2 := make([]float32, len(in1))
	copy(in2, in1)

	c := filter.NewChain(filter.Config{}, rate)
	c.Process(in1)
	c.Reset()
	c.Process(in2)

	for i := range in1 {
		if in1[i] != in2[i] {
			t.Fatalf("sample %d differs after Reset: %v != %v", i, in1[i], in2[i])
		}
	}
}
