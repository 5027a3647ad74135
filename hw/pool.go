package hw

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPoolExhausted is returned by Get when no free buffer is available.
	ErrPoolExhausted = errors.New("hw: buffer pool exhausted")
	// ErrDoubleRelease is returned by Release/Put when a buffer that is
	// already free is released again.
	ErrDoubleRelease = errors.New("hw: buffer released twice")
	// ErrForeignBuffer is returned when a buffer is put into a pool that did
	// not create it.
	ErrForeignBuffer = errors.New("hw: buffer does not belong to this pool")
)

// Pool is a fixed set of pre-allocated buffer headers tied to one output
// port. All buffers are created free; Get hands them out and Release (via the
// buffer) returns them.
type Pool struct {
	mu   sync.Mutex
	free []*Buffer

	count int
	size  int
}

// NewPool allocates count buffers of size bytes each.
func NewPool(count, size int) (*Pool, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("hw: invalid pool geometry %dx%d", count, size)
	}
	p := &Pool{
		free:  make([]*Buffer, 0, count),
		count: count,
		size:  size,
	}
	for i := 0; i < count; i++ {
		p.free = append(p.free, &Buffer{
			data: make([]byte, size),
			pool: p,
			free: true,
		})
	}
	return p, nil
}

// Count returns the total number of buffers owned by the pool.
func (p *Pool) Count() int { return p.count }

// Size returns the payload capacity of each buffer.
func (p *Pool) Size() int { return p.size }

// Get removes a free buffer from the pool. It returns ErrPoolExhausted when
// every buffer is in flight.
func (p *Pool) Get() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, ErrPoolExhausted
	}
	b := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	b.free = false
	return b, nil
}

// Free returns the number of buffers currently sitting in the pool.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Outstanding returns the number of buffers currently in flight.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count - len(p.free)
}

func (p *Pool) put(b *Buffer) error {
	if b.pool != p {
		return ErrForeignBuffer
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.free {
		return ErrDoubleRelease
	}
	b.Reset()
	b.free = true
	p.free = append(p.free, b)
	return nil
}
