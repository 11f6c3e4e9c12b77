package pipeline

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
)

// resampleStage converts the device sample rate to the pipeline rate. When
// both rates match the stage is a no-op that returns its input slice
// unchanged.
//
// The underlying sinc resampler is stateful: samples that do not yet produce
// a full output sample are carried into the next call, and [Flush] drains the
// tail once capture has stopped.
type resampleStage struct {
	rs *resampler.SimpleResamplerFloat32
}

func newResampleStage(deviceRate, targetRate int) (*resampleStage, error) {
	if deviceRate == targetRate {
		return &resampleStage{}, nil
	}
	rs, err := resampler.NewEngineFloat32(float64(deviceRate), float64(targetRate), resampler.QualityMedium)
	if err != nil {
		return nil, fmt.Errorf("resampler %d -> %d Hz: %w", deviceRate, targetRate, err)
	}
	return &resampleStage{rs: rs}, nil
}

// Process converts one block. The returned slice is owned by the resampler
// and only valid until the next call.
func (s *resampleStage) Process(in []float32) ([]float32, error) {
	if s.rs == nil {
		return in, nil
	}
	return s.rs.Process(in)
}

// Flush drains carried samples after the last block of a session.
func (s *resampleStage) Flush() ([]float32, error) {
	if s.rs == nil {
		return nil, nil
	}
	return s.rs.Flush()
}

// Reset clears carried state so the stage can serve a fresh session.
func (s *resampleStage) Reset() {
	if s.rs != nil {
		s.rs.Reset()
	}
}
