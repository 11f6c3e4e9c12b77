package pipeline

import (
	"math"
	"sync/atomic"
	"time"
)

// Stage names used in diagnostics and metrics attributes.
const (
	StageMix      = "mix"
	StageFilter   = "filter"
	StageResample = "resample"
	StageDenoise  = "denoise"
	StageAGC      = "agc"
)

var stageNames = []string{StageMix, StageFilter, StageResample, StageDenoise, StageAGC}

// Diagnostics is a point-in-time snapshot of pipeline health for one
// session. Counters are cumulative since the last [Pipeline.Reset].
type Diagnostics struct {
	// Callbacks is the number of capture callbacks processed.
	Callbacks uint64

	// StageErrors is the number of contained per-stage failures.
	StageErrors uint64

	// DroppedSamples is the number of samples lost to buffer overflow.
	DroppedSamples uint64

	// LimitedSamples is the number of samples attenuated by the soft
	// limiter.
	LimitedSamples uint64

	// InputPeak and InputRMS describe the mono signal entering the chain.
	InputPeak float64
	InputRMS  float64

	// OutputPeak and OutputRMS describe the enhanced signal written to the
	// capture buffer.
	OutputPeak float64
	OutputRMS  float64

	// AppliedGain is the most recent smoothed gain applied by the AGC.
	AppliedGain float64

	// StageTime is the cumulative processing time spent in each stage.
	StageTime map[string]time.Duration
}

// stats accumulates per-session diagnostics. The float fields are written
// only from the capture callback; read them via [Pipeline.Diagnostics] after
// the session has quiesced. The counters and stage timers are atomic and
// safe to read at any time.
type stats struct {
	callbacks   atomic.Uint64
	stageErrors atomic.Uint64

	inPeak, outPeak   float64
	inSumSq, outSumSq float64
	inCount, outCount uint64

	// stageTime holds cumulative nanoseconds per stage.
	stageTime [5]atomic.Int64
}

func stageIndex(name string) int {
	for i, n := range stageNames {
		if n == name {
			return i
		}
	}
	return -1
}

func (s *stats) addStageTime(idx int, d time.Duration) {
	if idx >= 0 {
		s.stageTime[idx].Add(int64(d))
	}
}

func (s *stats) observeInput(samples []float32) {
	for _, v := range samples {
		f := float64(v)
		if f < 0 {
			f = -f
		}
		if f > s.inPeak {
			s.inPeak = f
		}
		s.inSumSq += f * f
	}
	s.inCount += uint64(len(samples))
}

func (s *stats) observeOutput(samples []float32) {
	for _, v := range samples {
		f := float64(v)
		if f < 0 {
			f = -f
		}
		if f > s.outPeak {
			s.outPeak = f
		}
		s.outSumSq += f * f
	}
	s.outCount += uint64(len(samples))
}

func rmsFromSumSq(sumSq float64, count uint64) float64 {
	return math.Sqrt(sumSq / float64(count))
}

func (s *stats) reset() {
	s.callbacks.Store(0)
	s.stageErrors.Store(0)
	s.inPeak, s.outPeak = 0, 0
	s.inSumSq, s.outSumSq = 0, 0
	s.inCount, s.outCount = 0, 0
	for i := range s.stageTime {
		s.stageTime[i].Store(0)
	}
}
