package denoise

// RecurrentState is the per-model recurrent memory carried across frames
// within one recording session. Hidden and Cell are owned by the inference
// backend; the suppressor only allocates and zeroes them.
type RecurrentState struct {
	Hidden []float64
	Cell   []float64
}

// NewRecurrentState allocates a zeroed state of the given size.
func NewRecurrentState(size int) *RecurrentState {
	return &RecurrentState{
		Hidden: make([]float64, size),
		Cell:   make([]float64, size),
	}
}

// Zero clears the state in place. Must be called exactly once per new
// session; leaking state across sessions makes output nondeterministic
// relative to the new input.
func (s *RecurrentState) Zero() {
	for i := range s.Hidden {
		s.Hidden[i] = 0
	}
	for i := range s.Cell {
		s.Cell[i] = 0
	}
}

// Inference is the capability interface for a stateful denoising model.
// The suppressor is independent of the concrete backend: stage 1 receives a
// magnitude spectrum and returns a multiplicative mask of the same length;
// stage 2 receives a time-domain frame and returns the refined frame.
//
// Implementations must be deterministic: identical input and state produce
// identical output and identical updated state.
type Inference interface {
	// Infer maps input to output conditioned on state, updating state in
	// place. The returned slice may alias an internal buffer and is only
	// valid until the next call.
	Infer(input []float64, state *RecurrentState) ([]float64, error)

	// StateSize returns the recurrent state vector length this model needs.
	StateSize() int
}
