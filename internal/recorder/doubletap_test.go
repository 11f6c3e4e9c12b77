package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/clearmic/clearmic/internal/pipeline"
	"github.com/clearmic/clearmic/pkg/audio/mock"
	"github.com/clearmic/clearmic/pkg/dsp/agc"
	"github.com/clearmic/clearmic/pkg/dsp/denoise"
	"github.com/clearmic/clearmic/pkg/dsp/filter"
)

func TestDoubleTapTiming(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	cases := []struct {
		name       string
		pressesMs  []int
		wantCancel int
	}{
		{"isolated press", []int{0}, 0},
		{"pair inside window", []int{0, 250}, 1},
		{"pair at window edge", []int{0, 300}, 1},
		{"pair outside window", []int{0, 400}, 0},
		{"third press absorbed", []int{0, 100, 200}, 1},
		{"two independent pairs", []int{0, 100, 500, 600}, 2},
		{"slow triple, second pair fires", []int{0, 350, 500}, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := newDoubleTap(DefaultDoubleTapWindow)
			got := 0
			for _, ms := range tc.pressesMs {
				if d.press(at(ms)) {
					got++
				}
			}
			if got != tc.wantCancel {
				t.Errorf("cancels = %d, want %d", got, tc.wantCancel)
			}
		})
	}
}

func TestDoubleTapReset(t *testing.T) {
	t.Parallel()

	base := time.Now()
	d := newDoubleTap(300 * time.Millisecond)

	if d.press(base) {
		t.Fatal("first press fired")
	}
	d.reset()
	if d.press(base.Add(100 * time.Millisecond)) {
		t.Error("press after reset completed a stale window")
	}
}

func TestDoubleTapDefaultWindow(t *testing.T) {
	t.Parallel()

	d := newDoubleTap(0)
	if d.window != DefaultDoubleTapWindow {
		t.Errorf("window = %v, want %v", d.window, DefaultDoubleTapWindow)
	}
}

// pressRecorder builds a recording coordinator with every stage bypassed for
// the press-timing tests below, which drive pressAt with explicit timestamps.
func pressRecorder(t *testing.T) (*Recorder, *mock.Encoder) {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{
		TargetRate:    16000,
		BufferSeconds: 60,
		Filter: filter.Config{
			BypassHighpass:    true,
			BypassPreemphasis: true,
		},
		Denoise: denoise.Config{Disabled: true},
		AGC:     agc.Config{Disabled: true},
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	enc := &mock.Encoder{}
	return New(Config{}, mock.NewSource(16000, 1), p, enc), enc
}

func TestDoubleTapCancelsExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, enc := pressRecorder(t)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	base := time.Now()
	r.pressAt(base)
	r.pressAt(base.Add(250 * time.Millisecond))
	r.pressAt(base.Add(280 * time.Millisecond)) // absorbed

	if got := r.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle after double-tap cancel", got)
	}
	var cancels int
drain:
	for {
		select {
		case ev := <-r.Events():
			if ev.Type == EventCancelled {
				cancels++
			}
		default:
			break drain
		}
	}
	if cancels != 1 {
		t.Errorf("cancelled events = %d, want exactly 1", cancels)
	}
	if calls := enc.Calls(); len(calls) != 0 {
		t.Error("encoder invoked after double-tap cancel")
	}
}

func TestPressesOutsideWindowAreNoops(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, _ := pressRecorder(t)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	base := time.Now()
	r.pressAt(base)
	r.pressAt(base.Add(400 * time.Millisecond))

	if got := r.State(); got != StateRecording {
		t.Errorf("state = %v, want still recording", got)
	}
	if _, err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
