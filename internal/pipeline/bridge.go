package pipeline

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

// encoderOutputHandler builds the encoder output port callback for one
// capture session. The session's pool and queue are bound into the closure:
// the port contract allows one callback to still be in flight after Disable
// returns, so a late callback must keep operating on the session it was
// dispatched for and never read fields Stop or a later Start mutate.
//
// The callback runs on the runtime thread, so it must return quickly and
// must never block on the consumer: copy the payload, recycle the buffer,
// enqueue the frame.
//
// Every buffer handed in is recycled exactly once — released to the pool
// and, while the port is still enabled, replaced by a fresh submission so
// the encoder never starves. Zero-length heartbeats and codec-config
// buffers are recycled but never reach the frame queue.
func (p *Pipeline) encoderOutputHandler(pool *hw.Pool, queue *frameQueue) hw.PortCallback {
	return func(port hw.Port, b *hw.Buffer) {
		length := b.Length
		flags := b.Flags
		pts := b.PTS

		var data []byte
		payload := length > 0 && flags&hw.FlagConfig == 0
		if payload {
			src := b.Lock()
			data = make([]byte, len(src))
			copy(data, src)
			b.Unlock()
		}

		if err := b.Release(); err != nil {
			p.recycleFailures.Add(1)
			slog.Error("pipeline: buffer release failed", "port", port.Name(), "error", err)
		} else {
			p.buffersRecycled.Add(1)
			if port.Enabled() {
				p.resubmit(pool, port)
			}
		}

		switch {
		case flags&hw.FlagConfig != 0:
			p.configBuffers.Add(1)
			slog.Debug("pipeline: codec config buffer recycled", "size_bytes", length)
			return
		case length == 0:
			p.zeroLengthBuffers.Add(1)
			return
		}

		frame := Frame{
			Seq:       p.seq.Add(1),
			Timestamp: time.Now(),
			PTS:       pts,
			Keyframe:  flags&hw.FlagKeyframe != 0,
			TraceID:   uuid.New().String(),
			Data:      data,
		}
		if !queue.push(frame) {
			// Stop already closed the queue; the buffer was recycled above, so
			// nothing leaks.
			slog.Debug("pipeline: frame discarded, stream closed", "seq", frame.Seq)
			return
		}
		p.framesOut.Add(1)
		p.bytesOut.Add(uint64(length))
		slog.Debug("pipeline: frame queued",
			"seq", frame.Seq,
			"size_bytes", length,
			"keyframe", frame.Keyframe,
			"pts_us", pts,
			"trace_id", frame.TraceID,
		)
	}
}

// resubmit feeds one fresh buffer back to the port. Failures here are
// degradation, not faults: a stopping port refuses sends, and an exhausted
// pool rights itself when the next buffer is released.
func (p *Pipeline) resubmit(pool *hw.Pool, port hw.Port) {
	nb, err := pool.Get()
	if err != nil {
		p.recycleFailures.Add(1)
		slog.Warn("pipeline: no free buffer to resubmit", "port", port.Name(), "error", err)
		return
	}
	if err := port.Send(nb); err != nil {
		_ = nb.Release()
		slog.Debug("pipeline: buffer resubmit refused", "port", port.Name(), "error", err)
	}
}
