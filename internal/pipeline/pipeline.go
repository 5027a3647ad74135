package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

// Pipeline manages the two-stage capture -> encoder hardware pipeline. One
// Pipeline owns one capture session; after Stop it can be started again
// with the same settings.
type Pipeline struct {
	rt hw.Runtime
	s  Settings

	mu      sync.Mutex
	running bool
	capture *captureStage
	encode  *encodeStage
	conn    hw.Connection
	pool    *hw.Pool
	queue   *frameQueue

	// Last committed encoder rate, kept across Stop for stats.
	effBitrate int
	effLevel   string

	seq               atomic.Uint64
	framesOut         atomic.Uint64
	bytesOut          atomic.Uint64
	buffersRecycled   atomic.Uint64
	zeroLengthBuffers atomic.Uint64
	configBuffers     atomic.Uint64
	recycleFailures   atomic.Uint64
}

// New creates a pipeline for the given runtime and settings. Nothing is
// allocated on the hardware until Start.
func New(rt hw.Runtime, s Settings) *Pipeline {
	return &Pipeline{rt: rt, s: s}
}

// Start builds and enables the full pipeline: both stages configured and
// enabled, the tunnel connected, the output pool primed, and capture
// switched on. On any failure everything already built is torn down in
// reverse order and the error is returned; the pipeline stays stopped and
// can be started again.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pipeline: already running")
	}

	var cleanup []func()
	fail := func(err error) error {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		p.capture, p.encode, p.conn, p.pool, p.queue = nil, nil, nil, nil, nil
		return err
	}

	capture, err := setupCapture(p.rt, p.s)
	if err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, func() { _ = capture.comp.Destroy() })

	encode, err := setupEncoder(p.rt, p.s, capture.video.Format().Copy())
	if err != nil {
		return fail(err)
	}
	cleanup = append(cleanup, func() { _ = encode.comp.Destroy() })

	if err := capture.comp.Enable(); err != nil {
		return fail(fmt.Errorf("enable capture component: %w", err))
	}
	cleanup = append(cleanup, func() { _ = capture.comp.Disable() })

	if err := encode.comp.Enable(); err != nil {
		return fail(fmt.Errorf("enable encoder component: %w", err))
	}
	cleanup = append(cleanup, func() { _ = encode.comp.Disable() })

	conn, err := p.rt.Connect(capture.video, encode.in)
	if err != nil {
		return fail(fmt.Errorf("connect capture to encoder: %w", err))
	}
	cleanup = append(cleanup, func() { _ = conn.Destroy() })

	if err := conn.Enable(); err != nil {
		return fail(fmt.Errorf("enable tunnel: %w", err))
	}
	cleanup = append(cleanup, func() { _ = conn.Disable() })

	count, size := encode.out.Buffering()
	pool, err := hw.NewPool(count, size)
	if err != nil {
		return fail(fmt.Errorf("create output pool: %w", err))
	}

	queue := newFrameQueue()

	p.capture = capture
	p.encode = encode
	p.conn = conn
	p.pool = pool
	p.queue = queue
	p.effBitrate = encode.bitrate
	p.effLevel = encode.level

	// The callback captures this session's pool and queue so a callback
	// still in flight when Stop returns never reads the fields Stop clears.
	if err := encode.out.Enable(p.encoderOutputHandler(pool, queue)); err != nil {
		return fail(fmt.Errorf("enable encoder output: %w", err))
	}
	cleanup = append(cleanup, func() { _ = encode.out.Disable() })

	// Prime the port with the whole pool.
	for {
		b, err := pool.Get()
		if err != nil {
			if errors.Is(err, hw.ErrPoolExhausted) {
				break
			}
			return fail(fmt.Errorf("prime encoder output: %w", err))
		}
		if err := encode.out.Send(b); err != nil {
			_ = b.Release()
			return fail(fmt.Errorf("prime encoder output: %w", err))
		}
	}

	if err := capture.video.SetParam(hw.ParamCapture, true); err != nil {
		return fail(fmt.Errorf("start capture: %w", err))
	}

	p.running = true
	slog.Info("pipeline: started",
		"width", p.s.Width, "height", p.s.Height, "fps", p.s.Framerate,
		"codec", string(p.s.Codec),
		"bitrate", encode.bitrate, "level", encode.level,
		"pool_buffers", count, "buffer_size", size)
	return nil
}

// Stop tears the pipeline down in the reverse of the start order: capture
// off, output port disabled (which ends callbacks), queue closed so blocked
// consumers wake, then tunnel and components destroyed. Frames still queued
// are discarded. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}

	var errs []error
	collect := func(op string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", op, err))
		}
	}

	collect("stop capture", p.capture.video.SetParam(hw.ParamCapture, false))
	collect("disable encoder output", p.encode.out.Disable())
	if n := p.queue.close(); n > 0 {
		slog.Debug("pipeline: residual frames discarded", "count", n)
	}
	collect("disable tunnel", p.conn.Disable())
	collect("destroy tunnel", p.conn.Destroy())
	collect("disable capture component", p.capture.comp.Disable())
	collect("disable encoder component", p.encode.comp.Disable())
	collect("destroy capture component", p.capture.comp.Destroy())
	collect("destroy encoder component", p.encode.comp.Destroy())

	if n := p.pool.Outstanding(); n != 0 {
		slog.Warn("pipeline: buffers still outstanding after stop", "count", n)
	}

	p.running = false
	p.capture, p.encode, p.conn, p.pool = nil, nil, nil, nil
	slog.Info("pipeline: stopped",
		"frames_out", p.framesOut.Load(),
		"bytes_out", p.bytesOut.Load(),
		"buffers_recycled", p.buffersRecycled.Load())
	return errors.Join(errs...)
}

// Next blocks until a frame is available and returns it in production
// order. Once the pipeline is stopped it returns ErrClosed; before the
// first Start it returns ErrClosed immediately.
func (p *Pipeline) Next(ctx context.Context) (Frame, error) {
	p.mu.Lock()
	q := p.queue
	p.mu.Unlock()
	if q == nil {
		return Frame{}, ErrClosed
	}
	return q.pop(ctx)
}

// Running reports whether the pipeline is started.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	running := p.running
	queue := p.queue
	bitrate, level := p.effBitrate, p.effLevel
	p.mu.Unlock()

	st := Stats{
		Running:           running,
		FramesOut:         p.framesOut.Load(),
		BytesOut:          p.bytesOut.Load(),
		BuffersRecycled:   p.buffersRecycled.Load(),
		ZeroLengthBuffers: p.zeroLengthBuffers.Load(),
		ConfigBuffers:     p.configBuffers.Load(),
		RecycleFailures:   p.recycleFailures.Load(),
		EffectiveBitrate:  bitrate,
		EffectiveLevel:    level,
	}
	if queue != nil {
		st.QueueDepth = queue.depth()
	}
	return st
}
