package pipeline

import (
	"math"
	"testing"

	"github.com/clearmic/clearmic/pkg/dsp/agc"
	"github.com/clearmic/clearmic/pkg/dsp/denoise"
	"github.com/clearmic/clearmic/pkg/dsp/filter"
	"github.com/clearmic/clearmic/pkg/dsp/mixer"
)

// passthroughConfig disables every stage so the chain is bit-transparent at
// matching rates.
func passthroughConfig() Config {
	return Config{
		TargetRate:    16000,
		BufferSeconds: 60,
		Filter: filter.Config{
			BypassHighpass:    true,
			BypassPreemphasis: true,
		},
		Denoise: denoise.Config{Disabled: true},
		AGC:     agc.Config{Disabled: true},
	}
}

func sine(n int, freq, rate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.25 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func TestFlushBeforeConfigureIsANoop(t *testing.T) {
	t.Parallel()

	// A source that cannot report its format leaves the chain unconfigured
	// until the first callback; stopping before any block arrives must not
	// touch the absent rate-dependent stages.
	p, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush before Configure: %v", err)
	}
	if out := p.Drain(); len(out) != 0 {
		t.Errorf("drained %d samples from an unconfigured chain", len(out))
	}
}

func TestPassthroughChainIsTransparent(t *testing.T) {
	t.Parallel()

	p, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Configure(16000, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	in := sine(4096, 440, 16000)
	for i := 0; i < len(in); i += 512 {
		p.ProcessBlock(in[i:i+512], 1)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	out := p.Drain()
	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestStereoInputIsDownmixed(t *testing.T) {
	t.Parallel()

	p, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Configure(16000, 2); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	// Interleaved stereo with L = 0.4, R = 0.2 throughout.
	block := make([]float32, 512)
	for i := 0; i < len(block); i += 2 {
		block[i] = 0.4
		block[i+1] = 0.2
	}
	p.ProcessBlock(block, 2)

	out := p.Drain()
	if len(out) != 256 {
		t.Fatalf("output frames = %d, want 256", len(out))
	}
	want := float32((0.4 + 0.2) * mixer.Compensation)
	for i, v := range out {
		if math.Abs(float64(v-want)) > 1e-7 {
			t.Fatalf("frame %d = %v, want %v", i, v, want)
		}
	}
}

func TestResampleProducesTargetRate(t *testing.T) {
	t.Parallel()

	cfg := passthroughConfig()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Configure(48000, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	const n = 48000 // one second at the device rate
	in := sine(n, 440, 48000)
	for i := 0; i < n; i += 480 {
		p.ProcessBlock(in[i:i+480], 1)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	out := p.Drain()
	want := n / 3
	if math.Abs(float64(len(out)-want)) > 2048 {
		t.Errorf("output length = %d, want about %d", len(out), want)
	}
}

func TestFullChainConservesDuration(t *testing.T) {
	t.Parallel()

	cfg := Config{TargetRate: 16000, BufferSeconds: 60}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Configure(16000, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	const n = 16000
	in := sine(n, 300, 16000)
	for i := 0; i < n; i += 160 {
		p.ProcessBlock(in[i:i+160], 1)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	out := p.Drain()
	// The suppressor rounds output up to whole hops.
	if len(out) < n || len(out) >= n+denoise.DefaultHop {
		t.Errorf("output length = %d, want in [%d, %d)", len(out), n, n+denoise.DefaultHop)
	}
}

// panicInference always panics, standing in for a crashed model backend.
type panicInference struct{}

func (panicInference) Infer([]float64, *denoise.RecurrentState) ([]float64, error) {
	panic("backend crashed")
}

func (panicInference) StateSize() int { return 1 }

func TestPanickingStageIsContained(t *testing.T) {
	t.Parallel()

	cfg := passthroughConfig()
	cfg.Denoise = denoise.Config{Stage1: panicInference{}}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Configure(16000, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	block := sine(512, 440, 16000)
	for i := 0; i < 4; i++ {
		p.ProcessBlock(block, 1) // must not panic past the pipeline
	}

	d := p.Diagnostics()
	if d.StageErrors == 0 {
		t.Error("panicking stage was not counted")
	}
	if d.Callbacks != 4 {
		t.Errorf("callbacks = %d, want 4", d.Callbacks)
	}
}

func TestBufferOverflowIsCounted(t *testing.T) {
	t.Parallel()

	cfg := passthroughConfig()
	cfg.BufferSeconds = 1
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Configure(16000, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	block := sine(1024, 440, 16000)
	for i := 0; i < 48; i++ { // three seconds into a one-second buffer
		p.ProcessBlock(block, 1)
	}

	if d := p.Diagnostics(); d.DroppedSamples == 0 {
		t.Error("overflow was not counted")
	}
}

func TestDiagnosticsSnapshot(t *testing.T) {
	t.Parallel()

	p, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Configure(16000, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	p.ProcessBlock(sine(512, 440, 16000), 1)

	d := p.Diagnostics()
	if d.Callbacks != 1 {
		t.Errorf("callbacks = %d, want 1", d.Callbacks)
	}
	if d.InputPeak <= 0 || d.InputRMS <= 0 {
		t.Errorf("input levels not observed: peak=%v rms=%v", d.InputPeak, d.InputRMS)
	}
	if d.OutputPeak <= 0 || d.OutputRMS <= 0 {
		t.Errorf("output levels not observed: peak=%v rms=%v", d.OutputPeak, d.OutputRMS)
	}
	if _, ok := d.StageTime[StageMix]; !ok {
		t.Error("stage timings missing")
	}

	p.Reset()
	d = p.Diagnostics()
	if d.Callbacks != 0 || d.InputPeak != 0 {
		t.Errorf("reset did not clear diagnostics: %+v", d)
	}
}

func TestConfigureRejectsBadFormat(t *testing.T) {
	t.Parallel()

	p, err := New(passthroughConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		name     string
		rate     int
		channels int
	}{
		{"zero rate", 0, 1},
		{"negative rate", -1, 1},
		{"zero channels", 16000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := p.Configure(tc.rate, tc.channels); err == nil {
				t.Error("expected error")
			}
		})
	}
}
