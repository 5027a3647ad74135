package rpicam

import "time"

// Frame is one encoded frame pulled from the camera. Data is owned by the
// caller; the hardware buffer behind it was recycled before delivery.
type Frame struct {
	// Seq numbers frames from 1 in production order, without gaps.
	Seq uint64

	// Timestamp is the host wall-clock time the frame left the encoder.
	Timestamp time.Time

	// PTS is the presentation timestamp from the encoder clock, in
	// microseconds.
	PTS int64

	// Keyframe marks frames that decode independently.
	Keyframe bool

	// TraceID correlates this frame across log lines and transports.
	TraceID string

	Data []byte
}

// Stats is a point-in-time snapshot of the camera's counters.
type Stats struct {
	Running bool `json:"running"`

	FramesOut         uint64 `json:"frames_out"`
	BytesOut          uint64 `json:"bytes_out"`
	BuffersRecycled   uint64 `json:"buffers_recycled"`
	ZeroLengthBuffers uint64 `json:"zero_length_buffers"`
	ConfigBuffers     uint64 `json:"config_buffers"`
	RecycleFailures   uint64 `json:"recycle_failures"`
	QueueDepth        int    `json:"queue_depth"`

	// EffectiveBitrate and EffectiveLevel are what the rate policy actually
	// committed to the encoder, which may differ from the request.
	EffectiveBitrate int    `json:"effective_bitrate"`
	EffectiveLevel   string `json:"effective_level"`
}
