// Package mixer downmixes interleaved multi-channel PCM to mono.
//
// Stereo input is summed as (L+R)*Compensation. With Compensation = 0.5 a
// fully correlated full-scale signal sums to exactly full scale, so the
// downmix itself can never clip. The stage is stateless.
package mixer

import "fmt"

// Compensation is the gain applied to the stereo sum. 0.5 is the plain
// average, matching FFmpeg's stereo downmix matrix.
const Compensation = 0.5

// Policy selects how inputs with more than two channels are handled.
type Policy string

const (
	// PolicyAverageAll averages every channel into the mono output.
	PolicyAverageAll Policy = "average-all"

	// PolicyFirstTwo downmixes only the first two channels and ignores
	// the rest (some devices report unused aux channels).
	PolicyFirstTwo Policy = "first-two"
)

// IsValid reports whether p is a recognised multi-channel policy.
func (p Policy) IsValid() bool {
	return p == PolicyAverageAll || p == PolicyFirstTwo
}

// Mixer converts interleaved input of any channel count to mono.
type Mixer struct {
	policy Policy
}

// New creates a Mixer. An empty policy defaults to [PolicyAverageAll].
func New(policy Policy) (*Mixer, error) {
	if policy == "" {
		policy = PolicyAverageAll
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("mixer: unknown multi-channel policy %q", policy)
	}
	return &Mixer{policy: policy}, nil
}

// Downmix converts src (interleaved, channels wide) to mono, writing into dst
// and returning the mono slice. dst is grown as needed; pass a reused scratch
// slice to avoid per-call allocation. Mono input is returned as-is without
// copying. Output length equals len(src)/channels.
func (m *Mixer) Downmix(dst, src []float32, channels int) []float32 {
	if channels <= 1 {
		return src
	}

	frames := len(src) / channels
	if cap(dst) < frames {
		dst = make([]float32, frames)
	}
	dst = dst[:frames]

	switch {
	case channels == 2:
		for i := 0; i < frames; i++ {
			dst[i] = (src[2*i] + src[2*i+1]) * Compensation
		}
	case m.policy == PolicyFirstTwo:
		for i := 0; i < frames; i++ {
			dst[i] = (src[i*channels] + src[i*channels+1]) * Compensation
		}
	default: // PolicyAverageAll
		scale := float32(1) / float32(channels)
		for i := 0; i < frames; i++ {
			var sum float32
			for ch := 0; ch < channels; ch++ {
				sum += src[i*channels+ch]
			}
			dst[i] = sum * scale
		}
	}
	return dst
}
