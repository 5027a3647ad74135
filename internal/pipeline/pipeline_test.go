package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aDifferentJT/rpi-cam-control/hw"
	"github.com/aDifferentJT/rpi-cam-control/hw/simhw"
)

func testSettings() Settings {
	return Settings{
		Width:       1920,
		Height:      1080,
		Framerate:   30,
		Codec:       hw.EncodingH264,
		Bitrate:     17_000_000,
		Profile:     "high",
		Level:       "4",
		IntraPeriod: -1,
		Slices:      1,
		StereoMode:  "none",
	}
}

func TestStartPullStop(t *testing.T) {
	rt := simhw.New(simhw.WithFrameInterval(time.Millisecond))
	p := New(rt, testSettings())

	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var lastSeq uint64
	for i := 0; i < 10; i++ {
		f, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if f.Seq != lastSeq+1 {
			t.Errorf("seq jumped from %d to %d, want contiguous order", lastSeq, f.Seq)
		}
		lastSeq = f.Seq
		if len(f.Data) == 0 {
			t.Errorf("frame %d has no payload", f.Seq)
		}
		if f.TraceID == "" {
			t.Errorf("frame %d missing trace id", f.Seq)
		}
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Residual queued frames are discarded on stop; the stream just ends.
	if _, err := p.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Next after Stop = %v, want ErrClosed", err)
	}
	if depth := p.Stats().QueueDepth; depth != 0 {
		t.Errorf("QueueDepth = %d after Stop, want 0", depth)
	}

	d := rt.Diagnostics()
	if d.LiveComponents != 0 {
		t.Errorf("LiveComponents = %d after stop, want 0", d.LiveComponents)
	}
	if d.PendingBuffers != 0 {
		t.Errorf("PendingBuffers = %d after stop, want 0", d.PendingBuffers)
	}
}

func TestStopUnblocksNext(t *testing.T) {
	// No frames ever produced, so Next blocks until Stop.
	rt := simhw.New(simhw.WithFrameInterval(time.Hour))
	p := New(rt, testSettings())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Next = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next still blocked after Stop")
	}
}

func TestStopIdempotent(t *testing.T) {
	rt := simhw.New(simhw.WithFrameInterval(time.Millisecond))
	p := New(rt, testSettings())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("third Stop failed: %v", err)
	}
}

func TestRestartAfterStop(t *testing.T) {
	rt := simhw.New(simhw.WithFrameInterval(time.Millisecond))
	p := New(rt, testSettings())

	for round := 0; round < 2; round++ {
		if err := p.Start(); err != nil {
			t.Fatalf("Start round %d failed: %v", round, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := p.Next(ctx); err != nil {
			cancel()
			t.Fatalf("Next round %d: %v", round, err)
		}
		cancel()
		if err := p.Stop(); err != nil {
			t.Fatalf("Stop round %d failed: %v", round, err)
		}
	}

	if d := rt.Diagnostics(); d.LiveComponents != 0 || d.PendingBuffers != 0 {
		t.Errorf("resources leaked across restarts: %+v", d)
	}
}

func TestNonPayloadBuffersNeverReachQueue(t *testing.T) {
	rt := simhw.New(
		simhw.WithFrameInterval(time.Millisecond),
		simhw.WithConfigBuffer(),
		simhw.WithEmptyEvery(4),
	)
	p := New(rt, testSettings())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		f, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if len(f.Data) == 0 {
			t.Fatalf("zero-length buffer leaked into the frame stream at seq %d", f.Seq)
		}
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	st := p.Stats()
	if st.ConfigBuffers < 1 {
		t.Error("config buffer was not counted")
	}
	if st.ZeroLengthBuffers < 1 {
		t.Error("zero-length buffers were not counted")
	}
	// Every dispatched buffer was recycled: payloads + config + heartbeats.
	want := st.FramesOut + st.ConfigBuffers + st.ZeroLengthBuffers
	if st.BuffersRecycled < want {
		t.Errorf("BuffersRecycled = %d, want >= %d", st.BuffersRecycled, want)
	}
	if d := rt.Diagnostics(); d.PendingBuffers != 0 {
		t.Errorf("PendingBuffers = %d after stop, want 0", d.PendingBuffers)
	}
}

func TestSlowConsumerLosesNothing(t *testing.T) {
	const total = 12
	rt := simhw.New(simhw.WithFrameInterval(time.Millisecond), simhw.WithFrameCount(total))
	p := New(rt, testSettings())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Consume nothing while the producer emits all frames.
	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().QueueDepth < total {
		if time.Now().After(deadline) {
			t.Fatalf("queue depth stuck at %d, want %d", p.Stats().QueueDepth, total)
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := uint64(1); i <= total; i++ {
		f, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if f.Seq != i {
			t.Fatalf("frame %d arrived out of order (seq %d)", i, f.Seq)
		}
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestStartFailureTearsDownCleanly(t *testing.T) {
	faults := []struct {
		name string
		opt  simhw.Option
	}{
		{"capture create", simhw.WithCreateFailure(hw.KindCapture)},
		{"encoder create", simhw.WithCreateFailure(hw.KindEncode)},
		{"video format commit", simhw.WithCommitFailure("capture.video")},
		{"encoder output commit", simhw.WithCommitFailure("encode.out")},
		{"capture enable", simhw.WithEnableFailure(hw.KindCapture)},
		{"encoder enable", simhw.WithEnableFailure(hw.KindEncode)},
		{"connect", simhw.WithConnectFailure()},
		{"tunnel enable", simhw.WithTunnelEnableFailure()},
		{"output port enable", simhw.WithPortEnableFailure("encode.out")},
		{"capture switch", simhw.WithSetParamFailure(hw.ParamCapture)},
		{"profile level", simhw.WithSetParamFailure(hw.ParamProfileLevel)},
	}

	for _, tt := range faults {
		t.Run(tt.name, func(t *testing.T) {
			rt := simhw.New(simhw.WithFrameInterval(time.Millisecond), tt.opt)
			p := New(rt, testSettings())

			if err := p.Start(); err == nil {
				t.Fatal("Start succeeded despite injected fault")
			}

			d := rt.Diagnostics()
			if d.LiveComponents != 0 {
				t.Errorf("LiveComponents = %d after failed Start, want 0", d.LiveComponents)
			}
			if d.PendingBuffers != 0 {
				t.Errorf("PendingBuffers = %d after failed Start, want 0", d.PendingBuffers)
			}

			// A failed Start leaves the pipeline stopped, not wedged.
			if p.Running() {
				t.Error("pipeline reports running after failed Start")
			}
			if err := p.Stop(); err != nil {
				t.Errorf("Stop after failed Start: %v", err)
			}
		})
	}
}

// stubPort stands in for the encoder output port in callback-level tests.
type stubPort struct {
	enabled bool
	sent    []*hw.Buffer
}

func (p *stubPort) Name() string                            { return "encode.out" }
func (p *stubPort) Format() *hw.Format                      { return &hw.Format{} }
func (p *stubPort) CommitFormat() error                     { return nil }
func (p *stubPort) SetParam(hw.Param, any) error            { return nil }
func (p *stubPort) Param(hw.Param) (any, error)             { return nil, nil }
func (p *stubPort) Enable(hw.PortCallback) error            { return nil }
func (p *stubPort) Disable() error                          { return nil }
func (p *stubPort) Enabled() bool                           { return p.enabled }
func (p *stubPort) Send(b *hw.Buffer) error                 { p.sent = append(p.sent, b); return nil }
func (p *stubPort) BufferConstraints() hw.BufferConstraints { return hw.BufferConstraints{} }
func (p *stubPort) SetBuffering(int, int)                   {}
func (p *stubPort) Buffering() (int, int)                   { return 0, 0 }

func TestLateCallbackAfterStop(t *testing.T) {
	// The port contract allows one callback to still be in flight when
	// Disable returns, so a callback may resume after Stop has completed.
	// It must keep working against the session it was created for: recycle
	// its buffer, resubmit while the port reports enabled, and drop the
	// frame at the closed queue — never panic on state Stop cleared.
	rt := simhw.New(simhw.WithFrameInterval(time.Hour))
	p := New(rt, testSettings())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pool, err := hw.NewPool(2, 256)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	queue := newFrameQueue()
	cb := p.encoderOutputHandler(pool, queue)

	port := &stubPort{enabled: true}
	b, err := pool.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := b.Fill([]byte{0, 0, 0, 1, 0x65, 0xAA}, hw.FlagFrameEnd, 0); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	// Stop clears the pipeline's session fields while the callback is
	// still pending.
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	queue.close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		cb(port, b)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("late callback did not return")
	}

	// The buffer was released and, since the port still reported enabled,
	// one fresh buffer was resubmitted in its place.
	if len(port.sent) != 1 {
		t.Fatalf("resubmitted %d buffers, want 1", len(port.sent))
	}
	if pool.Outstanding() != 1 {
		t.Errorf("Outstanding = %d, want 1 (the resubmitted buffer)", pool.Outstanding())
	}
	if queue.depth() != 0 {
		t.Error("frame reached a closed queue")
	}
}

func TestIntraRefreshReadFallback(t *testing.T) {
	rt := simhw.New(
		simhw.WithFrameInterval(time.Millisecond),
		simhw.WithParamReadFailure(hw.ParamIntraRefresh),
	)
	s := testSettings()
	s.IntraRefresh = "cyclic"
	p := New(rt, s)

	// The read-back fails but the write succeeds, so Start must not fail.
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
