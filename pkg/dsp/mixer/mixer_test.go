package mixer_test

import (
	"math"
	"testing"

	"github.com/clearmic/clearmic/pkg/dsp/mixer"
)

func TestMonoPassthrough(t *testing.T) {
	t.Parallel()

	m, err := mixer.New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := []float32{0.1, -0.2, 0.3}
	got := m.Downmix(nil, src, 1)
	if &got[0] != &src[0] {
		t.Error("mono input should be returned without copying")
	}
}

// TestStereoCompensation pins the downmix factor: equal-amplitude stereo
// input must come out at exactly amplitude * 2 * Compensation.
func TestStereoCompensation(t *testing.T) {
	t.Parallel()

	m, _ := mixer.New(mixer.PolicyAverageAll)

	const amp = 0.5
	src := make([]float32, 32)
	for i := 0; i < 16; i++ {
		s := float32(amp * math.Sin(2*math.Pi*float64(i)/16))
		src[2*i] = s
		src[2*i+1] = s
	}

	got := m.Downmix(nil, src, 2)
	if len(got) != 16 {
		t.Fatalf("output length = %d, want 16", len(got))
	}
	for i, v := range got {
		want := src[2*i] * 2 * mixer.Compensation
		if math.Abs(float64(v-want)) > 1e-6 {
			t.Fatalf("sample %d = %v, want %v", i, v, want)
		}
	}
}

func TestFullScaleCorrelatedInputDoesNotClip(t *testing.T) {
	t.Parallel()

	m, _ := mixer.New(mixer.PolicyAverageAll)
	src := []float32{1, 1, -1, -1, 1, 1}
	got := m.Downmix(nil, src, 2)
	for i, v := range got {
		if v > 1 || v < -1 {
			t.Fatalf("sample %d = %v exceeds full scale", i, v)
		}
	}
}

func TestMultiChannelPolicies(t *testing.T) {
	t.Parallel()

	// One interleaved 4-channel frame: ch0=0.4, ch1=0.2, ch2=0.8, ch3=0.0
	src := []float32{0.4, 0.2, 0.8, 0.0}

	tests := []struct {
		policy mixer.Policy
		want   float32
	}{
		{mixer.PolicyAverageAll, (0.4 + 0.2 + 0.8 + 0.0) / 4},
		{mixer.PolicyFirstTwo, (0.4 + 0.2) * mixer.Compensation},
	}
	for _, tt := range tests {
		m, err := mixer.New(tt.policy)
		if err != nil {
			t.Fatalf("New(%s): %v", tt.policy, err)
		}
		got := m.Downmix(nil, src, 4)
		if len(got) != 1 {
			t.Fatalf("%s: output length = %d, want 1", tt.policy, len(got))
		}
		if math.Abs(float64(got[0]-tt.want)) > 1e-6 {
			t.Errorf("%s: got %v, want %v", tt.policy, got[0], tt.want)
		}
	}
}

func TestUnknownPolicyRejected(t *testing.T) {
	t.Parallel()

	if _, err := mixer.New("surround-magic"); err == nil {
		t.Error("New with unknown policy should fail")
	}
}

func TestScratchReuse(t *testing.T) {
	t.Parallel()

	m, _ := mixer.New(mixer.PolicyAverageAll)
	scratch := make([]float32, 0, 64)
	src := make([]float32, 32)

	got := m.Downmix(scratch, src, 2)
	if cap(got) != 64 {
		t.Errorf("Downmix should reuse the provided scratch slice, cap = %d", cap(got))
	}
}
