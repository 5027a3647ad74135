// Package hw defines the contract between the capture pipeline and the
// hardware video runtime.
//
// The runtime owns the actual pipeline blocks (a raw capture source and a
// hardware encoder), their ports, and the zero-copy tunnels between them.
// This package only describes that surface; implementations live elsewhere.
// The firmware-backed runtime is built and registered by the host
// application, while hw/simhw provides an in-process simulated runtime for
// development and tests.
//
// Lifecycle rules enforced by real firmware, which every implementation must
// preserve:
//
//   - A port's format may only be changed before CommitFormat.
//   - A component must be enabled before buffers flow, and a tunnel may only
//     be enabled while both endpoint components are enabled.
//   - A tunnel must be destroyed before either endpoint component.
//   - Output-port callbacks run on a runtime-owned thread; once Disable
//     returns, no new callback is dispatched for that port.
package hw

import "fmt"

// Kind identifies a pipeline block type.
type Kind int

const (
	// KindCapture is the raw video source block (camera sensor front end).
	KindCapture Kind = iota
	// KindEncode is the hardware video encoder block.
	KindEncode
)

// String returns a human-readable name for the component kind.
func (k Kind) String() string {
	switch k {
	case KindCapture:
		return "capture"
	case KindEncode:
		return "encode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Encoding is a four-character pixel or bitstream format code.
type Encoding string

const (
	// EncodingOpaque marks buffers that stay on the hardware side of the
	// tunnel and are never mapped into host memory.
	EncodingOpaque Encoding = "OPQV"
	// EncodingI420 is planar YUV 4:2:0 raw video.
	EncodingI420 Encoding = "I420"
	// EncodingH264 is an H.264 elementary stream.
	EncodingH264 Encoding = "H264"
	// EncodingMJPEG is a motion-JPEG stream.
	EncodingMJPEG Encoding = "MJPG"
)

// Rational is an exact frame-rate fraction.
type Rational struct {
	Num int
	Den int
}

// Rect describes the active picture region inside an aligned frame.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Format is the negotiated elementary-stream format of a port.
// Mutations take effect on the next CommitFormat of the owning port.
type Format struct {
	Encoding        Encoding
	EncodingVariant Encoding
	Width           int // aligned width
	Height          int // aligned height
	Crop            Rect
	FrameRate       Rational
	Bitrate         int
}

// Copy returns an independent copy of the format.
func (f *Format) Copy() Format {
	return *f
}

// BufferConstraints reports the buffer geometry a port requires on enable.
type BufferConstraints struct {
	CountMin         int
	CountRecommended int
	SizeMin          int
	SizeRecommended  int
}

// PortCallback is invoked by the runtime, on a runtime-owned thread, once
// per filled buffer until the port is disabled. The receiver owns the buffer
// until it calls Release.
type PortCallback func(p Port, b *Buffer)

// Port is one input, output or control port of a component.
type Port interface {
	// Name identifies the port for diagnostics ("capture.video",
	// "encode.out", ...).
	Name() string

	// Format returns the port's mutable format. Changes are staged until
	// CommitFormat.
	Format() *Format

	// CommitFormat negotiates the staged format with the hardware.
	CommitFormat() error

	// SetParam applies one runtime parameter to the port.
	SetParam(id Param, value any) error

	// Param reads back one runtime parameter.
	Param(id Param) (any, error)

	// Enable opens the port. Output ports require a callback; control and
	// tunneled ports may pass nil.
	Enable(cb PortCallback) error

	// Disable closes the port. After Disable returns, no new callback is
	// dispatched; one callback may still be in flight concurrently.
	Disable() error

	// Enabled reports whether the port is currently open.
	Enabled() bool

	// Send submits an empty buffer for the runtime to fill.
	Send(b *Buffer) error

	// BufferConstraints reports minimum and recommended buffer geometry.
	BufferConstraints() BufferConstraints

	// SetBuffering fixes the buffer count and size used when the port is
	// enabled. Values below the minimums are raised by the runtime.
	SetBuffering(count, size int)

	// Buffering returns the currently configured count and size.
	Buffering() (count, size int)
}

// Component is one hardware pipeline block.
type Component interface {
	Kind() Kind

	// Control is the component's control port (parameters, no data).
	Control() Port

	NumInputs() int
	Input(i int) Port

	NumOutputs() int
	Output(i int) Port

	// Enable powers the block on. Formats must be committed first.
	Enable() error

	// Disable powers the block off. Idempotent.
	Disable() error

	// Destroy releases the component. The component must be disabled and
	// all its tunnels destroyed first.
	Destroy() error
}

// Connection is a zero-copy tunnel between an output port and an input port.
// Buffers crossing it never become host-visible.
type Connection interface {
	// Enable starts forwarding. Both endpoint components must be enabled.
	Enable() error

	// Disable stops forwarding.
	Disable() error

	// Destroy releases the tunnel. Must happen before either endpoint
	// component is destroyed.
	Destroy() error
}

// Runtime creates components and tunnels. One runtime instance corresponds
// to one hardware device.
type Runtime interface {
	// NewComponent creates a pipeline block of the given kind in the
	// Created state.
	NewComponent(kind Kind) (Component, error)

	// Connect creates (but does not enable) a zero-copy tunnel from output
	// to input. Both ports must have committed formats.
	Connect(output, input Port) (Connection, error)
}
