package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by pop once the queue is closed and drained.
var ErrClosed = errors.New("pipeline: stream closed")

// frameQueue is the hand-off point between the encoder callback (producer,
// runtime thread) and the pulling caller (consumer). It is an unbounded
// FIFO: the producer never blocks and never drops, so backpressure shows up
// as queue depth, not as lost frames.
type frameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []Frame
	closed bool
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a frame and wakes one waiting consumer. Pushing to a closed
// queue discards the frame and reports false; that covers the window where
// a callback is still in flight while the pipeline is stopping.
func (q *frameQueue) push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.frames = append(q.frames, f)
	q.cond.Signal()
	return true
}

// pop removes the oldest frame, blocking until one is available, the queue
// is closed (ErrClosed), or ctx is done.
func (q *frameQueue) pop(ctx context.Context) (Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return Frame{}, ErrClosed
		}
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames = q.frames[1:]
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		q.cond.Wait()
	}
}

// close discards any residual queued frames, marks the end of the stream,
// and wakes every waiting consumer. It reports the number of frames
// discarded. Idempotent.
func (q *frameQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	n := len(q.frames)
	q.frames = nil
	q.closed = true
	q.cond.Broadcast()
	return n
}

func (q *frameQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
