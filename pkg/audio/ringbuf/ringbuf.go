// Package ringbuf provides a lock-free single-producer/single-consumer ring
// buffer for float32 PCM samples.
//
// The capture callback is the sole producer and the recording coordinator is
// the sole consumer. Write never blocks and never allocates; when the buffer
// is full the newest samples are dropped and counted rather than stalling the
// hardware callback.
package ringbuf

import "sync/atomic"

// Ring is a SPSC ring buffer. The zero value is not usable; use [New].
//
// Exactly one goroutine may call Write and exactly one may call Drain/Reset.
// Len and Dropped are safe from any goroutine.
type Ring struct {
	buf  []float32
	mask uint64

	// head is the producer's write index, tail the consumer's read index.
	// Both increase monotonically; the masked difference is the fill level.
	head    atomic.Uint64
	tail    atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Ring holding at least capacity samples. The actual capacity
// is rounded up to the next power of two so index masking stays branch-free.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Ring{
		buf:  make([]float32, n),
		mask: uint64(n - 1),
	}
}

// Cap returns the ring capacity in samples.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of samples currently buffered.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Dropped returns the total number of samples discarded because the ring
// was full at write time.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

// Write appends samples, dropping any that do not fit. It returns the number
// of samples actually stored. Producer-side only; never blocks.
func (r *Ring) Write(samples []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	free := uint64(len(r.buf)) - (head - tail)

	n := uint64(len(samples))
	if n > free {
		r.dropped.Add(n - free)
		n = free
	}
	if n == 0 {
		return 0
	}

	// Copy in at most two segments around the wrap point.
	start := head & r.mask
	first := uint64(len(r.buf)) - start
	if first > n {
		first = n
	}
	copy(r.buf[start:start+first], samples[:first])
	copy(r.buf[:n-first], samples[first:n])

	// Publish after the data is in place.
	r.head.Store(head + n)
	return int(n)
}

// Drain returns a copy of all buffered samples in arrival order and marks
// them consumed. Consumer-side only. Returns nil when the ring is empty.
func (r *Ring) Drain() []float32 {
	head := r.head.Load()
	tail := r.tail.Load()
	n := head - tail
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	start := tail & r.mask
	first := uint64(len(r.buf)) - start
	if first > n {
		first = n
	}
	copy(out[:first], r.buf[start:start+first])
	copy(out[first:], r.buf[:n-first])

	r.tail.Store(head)
	return out
}

// Reset discards all buffered samples and clears the drop counter.
// Consumer-side only; call only after the producer has quiesced.
func (r *Ring) Reset() {
	r.tail.Store(r.head.Load())
	r.dropped.Store(0)
}
