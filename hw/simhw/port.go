package simhw

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

type port struct {
	rt       *Runtime
	comp     *component
	name     string
	isOutput bool

	mu        sync.Mutex
	format    hw.Format
	commit    bool
	params    map[hw.Param]any
	enabled   bool
	cb        hw.PortCallback
	bufCount  int
	bufSize   int
	pending   chan *hw.Buffer
	stop      chan struct{}
	producing sync.WaitGroup
}

func newPort(rt *Runtime, comp *component, name string, isOutput bool) *port {
	return &port{
		rt:       rt,
		comp:     comp,
		name:     name,
		isOutput: isOutput,
		params:   make(map[hw.Param]any),
	}
}

func (p *port) Name() string { return p.name }

func (p *port) Format() *hw.Format { return &p.format }

func (p *port) CommitFormat() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return fmt.Errorf("simhw: commit format on enabled port %s", p.name)
	}
	if p.rt.failCommit[p.name] {
		return fmt.Errorf("%w: commit format %s", ErrInjected, p.name)
	}
	if p.name == "capture.video" && p.format.FrameRate.Num > 0 && p.format.FrameRate.Den > 0 {
		p.rt.captureRate.Store(int64(p.format.FrameRate.Num) / int64(p.format.FrameRate.Den))
	}
	p.commit = true
	return nil
}

func (p *port) committed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commit
}

func (p *port) SetParam(id hw.Param, value any) error {
	if p.rt.failSetParam[id] {
		return fmt.Errorf("%w: set %s on %s", ErrInjected, id, p.name)
	}
	p.mu.Lock()
	p.params[id] = value
	p.mu.Unlock()
	if id == hw.ParamCapture {
		on, _ := value.(bool)
		p.rt.capturing.Store(on)
	}
	return nil
}

func (p *port) Param(id hw.Param) (any, error) {
	if p.rt.failReadParam[id] {
		return nil, fmt.Errorf("%w: read %s on %s", ErrInjected, id, p.name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.params[id]; ok {
		return v, nil
	}
	// Firmware defaults for parameters never written.
	switch id {
	case hw.ParamIntraRefresh:
		return hw.IntraRefresh{}, nil
	case hw.ParamCapture:
		return false, nil
	}
	return nil, fmt.Errorf("simhw: parameter %s not set on %s", id, p.name)
}

func (p *port) BufferConstraints() hw.BufferConstraints {
	return hw.BufferConstraints{
		CountMin:         1,
		CountRecommended: 3,
		SizeMin:          16 << 10,
		SizeRecommended:  256 << 10,
	}
}

func (p *port) SetBuffering(count, size int) {
	c := p.BufferConstraints()
	if count < c.CountMin {
		count = c.CountMin
	}
	if size < c.SizeMin {
		size = c.SizeMin
	}
	p.mu.Lock()
	p.bufCount = count
	p.bufSize = size
	p.mu.Unlock()
}

func (p *port) Buffering() (count, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bufCount == 0 {
		c := p.BufferConstraints()
		return c.CountRecommended, c.SizeRecommended
	}
	return p.bufCount, p.bufSize
}

func (p *port) Enable(cb hw.PortCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rt.failPortEnable[p.name] {
		return fmt.Errorf("%w: enable port %s", ErrInjected, p.name)
	}
	if p.enabled {
		return fmt.Errorf("simhw: port %s enabled twice", p.name)
	}
	if p.isOutput && cb == nil {
		return fmt.Errorf("simhw: enable output port %s without callback", p.name)
	}
	p.enabled = true
	p.cb = cb
	depth := p.bufCount
	if depth < 16 {
		depth = 16
	}
	p.pending = make(chan *hw.Buffer, depth)
	p.stop = make(chan struct{})
	if p.name == "encode.out" {
		p.producing.Add(1)
		go p.produce(p.pending, p.stop)
	}
	return nil
}

func (p *port) Disable() error {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return nil
	}
	p.enabled = false
	stop := p.stop
	pending := p.pending
	p.mu.Unlock()

	close(stop)
	p.producing.Wait()

	// Hand queued-but-unfilled buffers back to their pool, as the firmware
	// does when an enabled port with outstanding buffers is torn down.
	for {
		select {
		case b := <-pending:
			p.rt.pendingBuffers.Add(-1)
			_ = b.Release()
		default:
			return nil
		}
	}
}

func (p *port) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *port) Send(b *hw.Buffer) error {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return fmt.Errorf("simhw: send to disabled port %s", p.name)
	}
	pending := p.pending
	p.mu.Unlock()

	select {
	case pending <- b:
		p.rt.pendingBuffers.Add(1)
		return nil
	default:
		return fmt.Errorf("simhw: port %s buffer backlog full", p.name)
	}
}

// produce is the runtime-owned dispatch thread of the encoder output port.
// It fills submitted buffers with synthetic encoded frames and invokes the
// port callback, pacing itself by the configured frame interval. Production
// pauses while capture is off or the tunnel is down, and stalls when the
// caller has not returned a buffer yet.
func (p *port) produce(pending chan *hw.Buffer, stop chan struct{}) {
	defer p.producing.Done()

	ticker := time.NewTicker(p.rt.frameInterval)
	defer ticker.Stop()

	var (
		seq        int   // payload frames dispatched
		ticks      int   // all dispatches, for the empty-buffer cadence
		pts        int64 // microseconds
		sentConfig bool
	)
	ptsStep := p.rt.frameInterval.Microseconds()
	if fps := p.rt.captureRate.Load(); fps > 0 {
		ptsStep = 1_000_000 / fps
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if !p.rt.capturing.Load() || !p.rt.tunnelOn.Load() {
			continue
		}
		if p.rt.frameCount > 0 && seq >= p.rt.frameCount {
			continue
		}

		var b *hw.Buffer
		select {
		case b = <-pending:
		default:
			continue
		}
		p.rt.pendingBuffers.Add(-1)

		switch {
		case p.rt.emitConfig && !sentConfig:
			_ = b.Fill(fakeStreamHeaders(), hw.FlagConfig, 0)
			sentConfig = true
		case p.rt.emptyEvery > 0 && ticks%p.rt.emptyEvery == p.rt.emptyEvery-1:
			_ = b.Fill(nil, hw.FlagFrameEnd, pts)
		default:
			flags := hw.FlagFrameEnd
			if seq%p.keyframeInterval() == 0 {
				flags |= hw.FlagKeyframe
			}
			_ = b.Fill(p.framePayload(seq, b.Cap()), flags, pts)
			seq++
			pts += ptsStep
			p.rt.framesProduced.Add(1)
		}
		ticks++
		p.cb(p, b)
	}
}

func (p *port) keyframeInterval() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.params[hw.ParamIntraPeriod]; ok {
		if n, ok := v.(uint32); ok && n > 0 {
			return int(n)
		}
	}
	return 10
}

// framePayload builds a deterministic byte-stream frame: an Annex-B start
// code, a one-byte marker, the frame sequence number, then filler.
func (p *port) framePayload(seq, maxLen int) []byte {
	n := p.rt.payloadSize
	if n > maxLen {
		n = maxLen
	}
	if n < 9 {
		n = 9
	}
	buf := make([]byte, n)
	copy(buf, []byte{0, 0, 0, 1})
	buf[4] = 0x65
	binary.BigEndian.PutUint32(buf[5:9], uint32(seq))
	for i := 9; i < n; i++ {
		buf[i] = byte(i)
	}
	return buf
}

func fakeStreamHeaders() []byte {
	return []byte{
		0, 0, 0, 1, 0x67, 0x64, 0x00, 0x28, 0xac, 0xb4, 0x03, 0xc0, 0x11, 0x3f, 0x2e, 0x02,
		0, 0, 0, 1, 0x68, 0xee, 0x06, 0xf2, 0xc0,
	}
}
