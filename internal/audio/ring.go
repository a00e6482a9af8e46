package audio

import (
	"fmt"
)

// RingBuffer is a fixed-capacity circular store of mono float32 samples.
// Writing past capacity overwrites the oldest unread samples; the buffer
// never grows. It is a plain data structure with a single-producer /
// single-consumer contract: callers that share one instance across
// goroutines must provide their own locking.
type RingBuffer struct {
	data     []float32
	capacity int
	writePos int
	readPos  int
	size     int
}

// RingStats is a snapshot of ring buffer positions for monitoring.
type RingStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
	WritePos int `json:"write_pos"`
	ReadPos  int `json:"read_pos"`
}

// NewRingBuffer creates a ring buffer holding up to capacity samples.
// Capacity should cover at least the largest consumer's chunk size plus a
// jitter margin, or samples will be overwritten before they are drained.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring buffer capacity must be positive, got %d", capacity)
	}
	return &RingBuffer{
		data:     make([]float32, capacity),
		capacity: capacity,
	}, nil
}

// Write absorbs all input samples, discarding the oldest buffered samples
// when the buffer would exceed capacity. Returns the number of input samples
// absorbed, which is always len(samples).
func (b *RingBuffer) Write(samples []float32) int {
	n := len(samples)
	if n == 0 {
		return 0
	}

	// Input alone exceeds capacity: only the newest samples can survive.
	if n >= b.capacity {
		copy(b.data, samples[n-b.capacity:])
		b.writePos = 0
		b.readPos = 0
		b.size = b.capacity
		return n
	}

	first := b.capacity - b.writePos
	if first > n {
		first = n
	}
	copy(b.data[b.writePos:], samples[:first])
	copy(b.data, samples[first:])
	b.writePos = (b.writePos + n) % b.capacity

	if overflow := b.size + n - b.capacity; overflow > 0 {
		// Oldest unread samples were overwritten; advance the read position
		// past them so reads resume at the oldest surviving sample.
		b.readPos = (b.readPos + overflow) % b.capacity
		b.size = b.capacity
	} else {
		b.size += n
	}

	return n
}

// Read removes and returns exactly n samples. Returns (nil, false) when fewer
// than n samples are buffered; this is an expected steady-state condition,
// not an error, and callers should poll Available first.
func (b *RingBuffer) Read(n int) ([]float32, bool) {
	out, ok := b.Peek(n)
	if !ok {
		return nil, false
	}
	b.readPos = (b.readPos + n) % b.capacity
	b.size -= n
	return out, true
}

// Peek returns exactly n samples without consuming them. Same availability
// contract as Read.
func (b *RingBuffer) Peek(n int) ([]float32, bool) {
	if n <= 0 || n > b.size {
		return nil, false
	}
	out := make([]float32, n)
	first := b.capacity - b.readPos
	if first > n {
		first = n
	}
	copy(out, b.data[b.readPos:b.readPos+first])
	copy(out[first:], b.data)
	return out, true
}

// Skip discards up to n samples without returning them and reports how many
// were actually discarded.
func (b *RingBuffer) Skip(n int) int {
	if n <= 0 {
		return 0
	}
	if n > b.size {
		n = b.size
	}
	b.readPos = (b.readPos + n) % b.capacity
	b.size -= n
	return n
}

// Available returns the number of buffered samples.
func (b *RingBuffer) Available() int {
	return b.size
}

// Capacity returns the fixed capacity in samples.
func (b *RingBuffer) Capacity() int {
	return b.capacity
}

// Clear discards all buffered samples.
func (b *RingBuffer) Clear() {
	b.writePos = 0
	b.readPos = 0
	b.size = 0
}

// Stats returns a snapshot of the buffer positions.
func (b *RingBuffer) Stats() RingStats {
	return RingStats{
		Size:     b.size,
		Capacity: b.capacity,
		WritePos: b.writePos,
		ReadPos:  b.readPos,
	}
}
