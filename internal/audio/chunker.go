package audio

import (
	"fmt"
	"sort"
)

// Chunker re-blocks an arbitrary-length sample stream into fixed-size,
// optionally overlapping windows, holding the unconsumed tail across calls.
// For any sequence of Process calls whose concatenated inputs are identical,
// the emitted chunk sequence is identical regardless of how the input was
// split across calls.
type Chunker struct {
	chunkSize int
	overlap   int
	remainder []float32
}

// ChunkerStats is a snapshot of chunker configuration and carry state.
type ChunkerStats struct {
	ChunkSize     int `json:"chunk_size"`
	Overlap       int `json:"overlap"`
	RemainderSize int `json:"remainder_size"`
}

// NewChunker creates a chunker emitting chunkSize-sample windows that advance
// by chunkSize-overlap samples per step.
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunk size), got %d for chunk size %d", overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Process appends input to the carried remainder and emits every complete
// chunk. Emitted chunks are fresh copies; callers may retain or mutate them.
// No sample is ever dropped: whatever does not fill a chunk is carried into
// the next call.
func (c *Chunker) Process(input []float32) [][]float32 {
	buf := input
	if len(c.remainder) > 0 {
		buf = make([]float32, 0, len(c.remainder)+len(input))
		buf = append(buf, c.remainder...)
		buf = append(buf, input...)
	}

	step := c.chunkSize - c.overlap
	var chunks [][]float32
	pos := 0
	for pos+c.chunkSize <= len(buf) {
		chunk := make([]float32, c.chunkSize)
		copy(chunk, buf[pos:pos+c.chunkSize])
		chunks = append(chunks, chunk)
		pos += step
	}

	// The tail keeps the overlap retention from the last emitted chunk.
	c.remainder = append(c.remainder[:0], buf[pos:]...)

	return chunks
}

// Reset clears the carried remainder.
func (c *Chunker) Reset() {
	c.remainder = c.remainder[:0]
}

// SetChunkSize changes the chunk size mid-stream. When preserveRemainder is
// false the carried tail is discarded; otherwise it is retained and
// reinterpreted under the new size on the next Process call. The overlap is
// clamped to stay valid for the new size.
func (c *Chunker) SetChunkSize(newSize int, preserveRemainder bool) error {
	if newSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", newSize)
	}
	c.chunkSize = newSize
	if c.overlap >= newSize {
		c.overlap = newSize - 1
	}
	if !preserveRemainder {
		c.remainder = c.remainder[:0]
	}
	return nil
}

// ChunkSize returns the current chunk size in samples.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap in samples.
func (c *Chunker) Overlap() int { return c.overlap }

// RemainderLen returns the number of carried samples.
func (c *Chunker) RemainderLen() int { return len(c.remainder) }

// Stats returns a snapshot of the chunker state.
func (c *Chunker) Stats() ChunkerStats {
	return ChunkerStats{
		ChunkSize:     c.chunkSize,
		Overlap:       c.overlap,
		RemainderSize: len(c.remainder),
	}
}

// MultiChannelChunker fans one input stream out to several independently
// configured Chunkers, so a single audio callback can feed consumers with
// different window sizes without duplicating buffering logic. Each channel's
// remainder evolves independently.
type MultiChannelChunker struct {
	channels map[string]*Chunker
}

// NewMultiChannelChunker creates an empty multi-channel chunker.
func NewMultiChannelChunker() *MultiChannelChunker {
	return &MultiChannelChunker{channels: make(map[string]*Chunker)}
}

// RegisterChannel adds a named consumer with its own chunk size and overlap.
func (m *MultiChannelChunker) RegisterChannel(name string, chunkSize, overlap int) error {
	if name == "" {
		return fmt.Errorf("channel name cannot be empty")
	}
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	chunker, err := NewChunker(chunkSize, overlap)
	if err != nil {
		return fmt.Errorf("channel %q: %w", name, err)
	}
	m.channels[name] = chunker
	return nil
}

// Process runs the same input through every registered channel and returns
// the chunks each one emitted, keyed by channel name.
func (m *MultiChannelChunker) Process(input []float32) map[string][][]float32 {
	out := make(map[string][][]float32, len(m.channels))
	for name, chunker := range m.channels {
		out[name] = chunker.Process(input)
	}
	return out
}

// Channel returns the chunker registered under name.
func (m *MultiChannelChunker) Channel(name string) (*Chunker, bool) {
	c, ok := m.channels[name]
	return c, ok
}

// ChannelNames returns the registered channel names in sorted order.
func (m *MultiChannelChunker) ChannelNames() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears the remainder of every registered channel.
func (m *MultiChannelChunker) Reset() {
	for _, chunker := range m.channels {
		chunker.Reset()
	}
}
