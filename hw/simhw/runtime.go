// Package simhw is an in-process simulated video runtime implementing the
// hw contract. It reproduces the firmware's lifecycle rules (format commit,
// enable ordering, tunnel-before-component teardown) and produces synthetic
// encoded frames on a runtime-owned goroutine, so the full pipeline can be
// exercised without camera hardware. Fault injection options let tests fail
// any individual lifecycle step.
package simhw

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

// ErrInjected is the base error of every injected fault.
var ErrInjected = errors.New("simhw: injected fault")

// Runtime is a simulated hardware runtime. One Runtime stands in for one
// camera device; create a fresh one per test.
type Runtime struct {
	frameInterval time.Duration
	frameCount    int
	payloadSize   int
	emitConfig    bool
	emptyEvery    int

	failCreate       map[hw.Kind]bool
	failEnable       map[hw.Kind]bool
	failCommit       map[string]bool
	failPortEnable   map[string]bool
	failSetParam     map[hw.Param]bool
	failReadParam    map[hw.Param]bool
	failConnect      bool
	failTunnelEnable bool

	capturing   atomic.Bool
	tunnelOn    atomic.Bool
	captureRate atomic.Int64

	liveComponents atomic.Int64
	framesProduced atomic.Int64
	pendingBuffers atomic.Int64
}

// Diagnostics is a snapshot of the runtime's resource accounting, used by
// tests to prove the pipeline leaks nothing.
type Diagnostics struct {
	// LiveComponents is the number of created, not yet destroyed components.
	LiveComponents int
	// PendingBuffers is the number of buffers submitted to ports and not yet
	// handed to a callback or drained.
	PendingBuffers int
	// FramesProduced counts payload frames dispatched to callbacks.
	FramesProduced int
}

// New creates a simulated runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		frameInterval:  5 * time.Millisecond,
		payloadSize:    4096,
		failCreate:     make(map[hw.Kind]bool),
		failEnable:     make(map[hw.Kind]bool),
		failCommit:     make(map[string]bool),
		failPortEnable: make(map[string]bool),
		failSetParam:   make(map[hw.Param]bool),
		failReadParam:  make(map[hw.Param]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Diagnostics returns the current resource accounting.
func (r *Runtime) Diagnostics() Diagnostics {
	return Diagnostics{
		LiveComponents: int(r.liveComponents.Load()),
		PendingBuffers: int(r.pendingBuffers.Load()),
		FramesProduced: int(r.framesProduced.Load()),
	}
}

// NewComponent implements hw.Runtime.
func (r *Runtime) NewComponent(kind hw.Kind) (hw.Component, error) {
	if r.failCreate[kind] {
		return nil, fmt.Errorf("%w: create %s", ErrInjected, kind)
	}
	c := &component{rt: r, kind: kind}
	c.control = newPort(r, c, fmt.Sprintf("%s.control", kind), false)
	switch kind {
	case hw.KindCapture:
		// Three outputs like the real camera block: preview, video, still.
		c.outputs = []*port{
			newPort(r, c, "capture.preview", true),
			newPort(r, c, "capture.video", true),
			newPort(r, c, "capture.still", true),
		}
	case hw.KindEncode:
		c.inputs = []*port{newPort(r, c, "encode.in", false)}
		c.outputs = []*port{newPort(r, c, "encode.out", true)}
	default:
		return nil, fmt.Errorf("simhw: unknown component kind %v", kind)
	}
	r.liveComponents.Add(1)
	return c, nil
}

// Connect implements hw.Runtime.
func (r *Runtime) Connect(output, input hw.Port) (hw.Connection, error) {
	if r.failConnect {
		return nil, fmt.Errorf("%w: connect %s -> %s", ErrInjected, output.Name(), input.Name())
	}
	out, ok := output.(*port)
	if !ok {
		return nil, fmt.Errorf("simhw: output port %s is not simulated", output.Name())
	}
	in, ok := input.(*port)
	if !ok {
		return nil, fmt.Errorf("simhw: input port %s is not simulated", input.Name())
	}
	if !out.committed() || !in.committed() {
		return nil, fmt.Errorf("simhw: connect %s -> %s: formats not committed", out.name, in.name)
	}
	conn := &connection{rt: r, out: out, in: in}
	out.comp.tunnels.Add(1)
	in.comp.tunnels.Add(1)
	return conn, nil
}

type component struct {
	rt      *Runtime
	kind    hw.Kind
	control *port
	inputs  []*port
	outputs []*port

	mu        sync.Mutex
	enabled   bool
	destroyed bool
	tunnels   atomic.Int64
}

func (c *component) Kind() hw.Kind        { return c.kind }
func (c *component) Control() hw.Port     { return c.control }
func (c *component) NumInputs() int       { return len(c.inputs) }
func (c *component) Input(i int) hw.Port  { return c.inputs[i] }
func (c *component) NumOutputs() int      { return len(c.outputs) }
func (c *component) Output(i int) hw.Port { return c.outputs[i] }

func (c *component) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return fmt.Errorf("simhw: enable destroyed %s component", c.kind)
	}
	if c.rt.failEnable[c.kind] {
		return fmt.Errorf("%w: enable %s", ErrInjected, c.kind)
	}
	c.enabled = true
	return nil
}

func (c *component) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	return nil
}

func (c *component) isEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *component) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return fmt.Errorf("simhw: %s component destroyed twice", c.kind)
	}
	if c.enabled {
		return fmt.Errorf("simhw: destroy enabled %s component", c.kind)
	}
	if n := c.tunnels.Load(); n != 0 {
		return fmt.Errorf("simhw: destroy %s component with %d live tunnels", c.kind, n)
	}
	for _, p := range append(append([]*port{c.control}, c.inputs...), c.outputs...) {
		if p.Enabled() {
			return fmt.Errorf("simhw: destroy %s component with enabled port %s", c.kind, p.name)
		}
	}
	c.destroyed = true
	c.rt.liveComponents.Add(-1)
	return nil
}

type connection struct {
	rt  *Runtime
	out *port
	in  *port

	mu        sync.Mutex
	enabled   bool
	destroyed bool
}

func (c *connection) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return errors.New("simhw: enable destroyed tunnel")
	}
	if c.rt.failTunnelEnable {
		return fmt.Errorf("%w: enable tunnel %s -> %s", ErrInjected, c.out.name, c.in.name)
	}
	if !c.out.comp.isEnabled() || !c.in.comp.isEnabled() {
		return fmt.Errorf("simhw: enable tunnel %s -> %s: endpoint component disabled", c.out.name, c.in.name)
	}
	c.enabled = true
	c.rt.tunnelOn.Store(true)
	return nil
}

func (c *connection) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	c.rt.tunnelOn.Store(false)
	return nil
}

func (c *connection) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return errors.New("simhw: tunnel destroyed twice")
	}
	c.enabled = false
	c.rt.tunnelOn.Store(false)
	c.destroyed = true
	c.out.comp.tunnels.Add(-1)
	c.in.comp.tunnels.Add(-1)
	return nil
}
