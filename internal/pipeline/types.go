// Package pipeline owns the two-stage hardware pipeline: the capture block,
// the encoder block, the zero-copy tunnel between them, the encoder output
// buffer pool, and the bridge that turns runtime-thread buffer callbacks
// into frames a caller can pull.
package pipeline

import (
	"time"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

// Settings is the pipeline's view of the capture configuration. It mirrors
// the public Config type (avoids an import cycle with the root package) and
// arrives already validated.
type Settings struct {
	CameraNum  int
	SensorMode int
	Width      int
	Height     int
	Framerate  int

	Codec   hw.Encoding
	Bitrate int
	Profile string
	Level   string

	Quantization  int
	IntraPeriod   int // -1 = leave firmware default
	IntraRefresh  string
	InlineHeaders bool
	SPSTimings    bool
	Slices        int

	StereoMode     string
	StereoDecimate bool
	StereoSwapEyes bool
}

// Frame is one encoded frame handed off from the encoder callback to the
// pulling caller. Data is an independent copy; the hardware buffer that
// carried it has already been recycled.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	PTS       int64 // microseconds, from the encoder clock
	Keyframe  bool
	TraceID   string
	Data      []byte
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Running bool

	FramesOut         uint64
	BytesOut          uint64
	BuffersRecycled   uint64
	ZeroLengthBuffers uint64
	ConfigBuffers     uint64
	RecycleFailures   uint64
	QueueDepth        int

	// EffectiveBitrate and EffectiveLevel are the values actually committed
	// to the encoder after the rate-policy pass, which may differ from the
	// requested configuration.
	EffectiveBitrate int
	EffectiveLevel   string
}
