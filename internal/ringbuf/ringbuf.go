// Package ringbuf implements the fixed-capacity byte-chunk FIFO (C1) used
// to buffer packet data between the capture source and the PCAP writer.
// Admission drops the oldest buffered chunks rather than blocking, the same
// drop-oldest discipline the teacher's captureStore circular buffer uses
// for Capture entries, generalized here to byte-sized chunks with a
// capacity in bytes instead of a fixed entry count.
package ringbuf

import "sync"

// Buffer is a byte-chunk FIFO with a maximum total size in bytes. Pushing a
// chunk that would exceed capacity first evicts the oldest chunks; a chunk
// larger than capacity on its own is rejected outright.
type Buffer struct {
	mu         sync.Mutex
	chunks     [][]byte
	size       int64
	capacity   int64
}

// New constructs a Buffer with the given capacity in bytes.
func New(capacityBytes int64) *Buffer {
	return &Buffer{capacity: capacityBytes}
}

// Push admits chunk, evicting the oldest buffered chunks if necessary to
// make room. It reports false (and changes nothing) if chunk alone exceeds
// capacity.
func (b *Buffer) Push(chunk []byte) bool {
	n := int64(len(chunk))
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.capacity {
		return false
	}
	for b.size+n > b.capacity && len(b.chunks) > 0 {
		evicted := b.chunks[0]
		b.chunks = b.chunks[1:]
		b.size -= int64(len(evicted))
	}
	b.chunks = append(b.chunks, chunk)
	b.size += n
	return true
}

// Pop removes and returns the oldest chunk, or (nil, false) if empty.
func (b *Buffer) Pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return nil, false
	}
	chunk := b.chunks[0]
	b.chunks = b.chunks[1:]
	b.size -= int64(len(chunk))
	return chunk, true
}

// Size returns the current total size in bytes of all buffered chunks.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the configured maximum size in bytes.
func (b *Buffer) Capacity() int64 {
	return b.capacity
}

// IsFull reports whether the buffer has reached the backpressure
// threshold: current size >= 0.80 * capacity. The boundary is inclusive.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return isFull(b.size, b.capacity)
}

func isFull(size, capacity int64) bool {
	// size >= 0.8*capacity, computed in integer arithmetic as
	// 5*size >= 4*capacity to avoid floating point rounding at the boundary.
	return 5*size >= 4*capacity
}

// Len returns the number of chunks currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
