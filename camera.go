package rpicam

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aDifferentJT/rpi-cam-control/hw"
	"github.com/aDifferentJT/rpi-cam-control/internal/pipeline"
)

// Camera is a pull source of encoded frames backed by the two-stage
// hardware pipeline. Create with NewCamera, then Start, NextFrame in a
// loop, and Stop. A stopped camera can be started again.
//
// Start, Stop and Stats are safe for concurrent use. NextFrame may be
// called from one consumer goroutine.
type Camera struct {
	cfg Config
	p   *pipeline.Pipeline
}

// NewCamera validates the configuration, runs the encoder rate policy
// against it, and prepares a camera on the given runtime. No hardware is
// touched until Start.
func NewCamera(cfg Config, rt hw.Runtime) (*Camera, error) {
	if rt == nil {
		return nil, fmt.Errorf("%w: nil runtime", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := settingsFromConfig(cfg)
	if _, _, err := pipeline.PlanEncoding(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	return &Camera{cfg: cfg, p: pipeline.New(rt, s)}, nil
}

// Config returns the configuration the camera was created with.
func (c *Camera) Config() Config { return c.cfg }

// DumpConfig writes the effective configuration as YAML, for verbose
// diagnostics.
func (c *Camera) DumpConfig(w io.Writer) error { return c.cfg.Dump(w) }

// Start builds and enables the hardware pipeline. On failure everything
// already allocated is released and an error wrapping ErrResource is
// returned; the camera stays stopped and Start may be retried.
func (c *Camera) Start() error {
	if err := c.p.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrResource, err)
	}
	return nil
}

// NextFrame blocks until the next encoded frame is available and returns
// frames in production order. After Stop it returns ErrStreamClosed;
// frames still queued at stop are discarded.
func (c *Camera) NextFrame() (Frame, error) {
	return c.NextFrameContext(context.Background())
}

// NextFrameContext is NextFrame with a cancellation point. It returns
// ctx.Err() if the context ends first.
func (c *Camera) NextFrameContext(ctx context.Context) (Frame, error) {
	f, err := c.p.Next(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrClosed) {
			return Frame{}, ErrStreamClosed
		}
		return Frame{}, err
	}
	return Frame{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		PTS:       f.PTS,
		Keyframe:  f.Keyframe,
		TraceID:   f.TraceID,
		Data:      f.Data,
	}, nil
}

// Stop tears the pipeline down and wakes any blocked NextFrame caller.
// Idempotent; safe to call on a camera that never started.
func (c *Camera) Stop() error {
	return c.p.Stop()
}

// Stats returns a snapshot of the camera's counters.
func (c *Camera) Stats() Stats {
	st := c.p.Stats()
	return Stats{
		Running:           st.Running,
		FramesOut:         st.FramesOut,
		BytesOut:          st.BytesOut,
		BuffersRecycled:   st.BuffersRecycled,
		ZeroLengthBuffers: st.ZeroLengthBuffers,
		ConfigBuffers:     st.ConfigBuffers,
		RecycleFailures:   st.RecycleFailures,
		QueueDepth:        st.QueueDepth,
		EffectiveBitrate:  st.EffectiveBitrate,
		EffectiveLevel:    st.EffectiveLevel,
	}
}

func settingsFromConfig(cfg Config) pipeline.Settings {
	codec := hw.EncodingH264
	if cfg.Codec == CodecMJPEG {
		codec = hw.EncodingMJPEG
	}
	return pipeline.Settings{
		CameraNum:      cfg.CameraNum,
		SensorMode:     cfg.SensorMode,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Framerate:      cfg.Framerate,
		Codec:          codec,
		Bitrate:        cfg.Bitrate,
		Profile:        cfg.Profile,
		Level:          cfg.Level,
		Quantization:   cfg.Quantization,
		IntraPeriod:    cfg.IntraPeriod,
		IntraRefresh:   cfg.IntraRefresh,
		InlineHeaders:  cfg.InlineHeaders,
		SPSTimings:     cfg.SPSTimings,
		Slices:         cfg.Slices,
		StereoMode:     cfg.StereoMode,
		StereoDecimate: cfg.StereoDecimate,
		StereoSwapEyes: cfg.StereoSwapEyes,
	}
}
