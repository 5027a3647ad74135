package hw

import (
	"errors"
	"fmt"
	"sync"
)

// BufferFlags annotate a filled buffer.
type BufferFlags uint32

const (
	// FlagFrameEnd marks the buffer as completing one frame.
	FlagFrameEnd BufferFlags = 1 << iota
	// FlagKeyframe marks the payload as a key frame.
	FlagKeyframe
	// FlagConfig marks side-channel codec metadata (stream headers), not
	// frame payload.
	FlagConfig
	// FlagEOS marks the end of the stream.
	FlagEOS
)

// ErrBufferTooLarge is returned by Fill when the payload exceeds the
// buffer's capacity.
var ErrBufferTooLarge = errors.New("hw: payload exceeds buffer capacity")

// Buffer is one hardware output buffer header. Buffers are created only by
// a Pool and cycle between three holders: free in the pool, in flight at a
// port, or held by the port callback for copying.
type Buffer struct {
	data []byte

	// Length is the number of valid payload bytes.
	Length int
	// Flags annotate the payload.
	Flags BufferFlags
	// PTS is the presentation timestamp in microseconds.
	PTS int64

	pool   *Pool
	mu     sync.Mutex
	locked bool
	free   bool
}

// Cap returns the buffer's payload capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Lock maps the buffer into host memory for reading and returns the valid
// payload slice. The caller must Unlock before releasing the buffer.
func (b *Buffer) Lock() []byte {
	b.mu.Lock()
	b.locked = true
	return b.data[:b.Length]
}

// Unlock ends host access started by Lock.
func (b *Buffer) Unlock() {
	b.locked = false
	b.mu.Unlock()
}

// Fill writes a payload into the buffer. It is the runtime-side counterpart
// of Lock and is called by runtime implementations only.
func (b *Buffer) Fill(payload []byte, flags BufferFlags, pts int64) error {
	if len(payload) > len(b.data) {
		return fmt.Errorf("%w: %d > %d", ErrBufferTooLarge, len(payload), len(b.data))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.data, payload)
	b.Length = len(payload)
	b.Flags = flags
	b.PTS = pts
	return nil
}

// Reset clears payload metadata before the buffer is resubmitted.
func (b *Buffer) Reset() {
	b.Length = 0
	b.Flags = 0
	b.PTS = 0
}

// Release returns the buffer to its owning pool. Releasing a buffer twice
// is a bug; the second call is refused and reported by the pool.
func (b *Buffer) Release() error {
	return b.pool.put(b)
}
