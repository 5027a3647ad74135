// Package gstout exposes the camera's encoded stream to a GStreamer
// pipeline: an appsrc fed with pulled frames, parsed and RTP-payloaded,
// then sent over UDP. It is the framework-facing alternative to the plain
// transport sender and the only output path that carries MJPEG.
package gstout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	rpicam "github.com/aDifferentJT/rpi-cam-control"
)

// FrameSource is the pull side of the camera; *rpicam.Camera satisfies it.
type FrameSource interface {
	NextFrameContext(ctx context.Context) (rpicam.Frame, error)
}

// Config describes the output pipeline.
type Config struct {
	// Codec selects the parse/payload elements.
	Codec rpicam.Codec

	// Host and Port address the RTP receiver (udpsink).
	Host string
	Port int
}

// Output owns the GStreamer pipeline and the appsrc that feeds it.
type Output struct {
	pipeline *gst.Pipeline
	src      *app.Source

	framesPushed atomic.Uint64
	pushFailures atomic.Uint64
}

// New builds the output pipeline but leaves it in the NULL state; call
// Start before pushing frames.
//
// Pipeline structure:
//
//	appsrc → h264parse → rtph264pay → udpsink   (H.264)
//	appsrc → jpegparse → rtpjpegpay → udpsink   (MJPEG)
func New(cfg Config) (*Output, error) {
	if cfg.Host == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("gstout: invalid peer %s:%d", cfg.Host, cfg.Port)
	}

	var parseName, payName, capsStr string
	switch cfg.Codec {
	case rpicam.CodecH264:
		parseName = "h264parse"
		payName = "rtph264pay"
		capsStr = "video/x-h264,stream-format=byte-stream,alignment=au"
	case rpicam.CodecMJPEG:
		parseName = "jpegparse"
		payName = "rtpjpegpay"
		capsStr = "image/jpeg"
	default:
		return nil, fmt.Errorf("gstout: unsupported codec %q", cfg.Codec)
	}

	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstout: failed to create pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("gstout: failed to create appsrc: %w", err)
	}
	appsrc.SetCaps(gst.NewCapsFromString(capsStr))
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("do-timestamp", true)
	appsrc.SetProperty("format", int(gst.FormatTime))

	parse, err := gst.NewElement(parseName)
	if err != nil {
		return nil, fmt.Errorf("gstout: failed to create %s: %w", parseName, err)
	}

	pay, err := gst.NewElement(payName)
	if err != nil {
		return nil, fmt.Errorf("gstout: failed to create %s: %w", payName, err)
	}
	pay.SetProperty("pt", 96)

	udpsink, err := gst.NewElement("udpsink")
	if err != nil {
		return nil, fmt.Errorf("gstout: failed to create udpsink: %w", err)
	}
	udpsink.SetProperty("host", cfg.Host)
	udpsink.SetProperty("port", cfg.Port)
	udpsink.SetProperty("sync", false)

	pipeline.AddMany(appsrc.Element, parse, pay, udpsink)
	if err := gst.ElementLinkMany(appsrc.Element, parse, pay, udpsink); err != nil {
		return nil, fmt.Errorf("gstout: failed to link pipeline elements: %w", err)
	}

	slog.Info("gstout: pipeline created",
		"codec", string(cfg.Codec), "parse", parseName, "pay", payName,
		"host", cfg.Host, "port", cfg.Port)
	return &Output{pipeline: pipeline, src: appsrc}, nil
}

// Start moves the pipeline to PLAYING.
func (o *Output) Start() error {
	if err := o.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstout: failed to start pipeline: %w", err)
	}
	return nil
}

// Push hands one frame to the appsrc. The data is copied into a GStreamer
// buffer, so the caller keeps ownership of f.Data.
func (o *Output) Push(f rpicam.Frame) error {
	buffer := gst.NewBufferFromBytes(f.Data)
	if ret := o.src.PushBuffer(buffer); ret != gst.FlowOK {
		o.pushFailures.Add(1)
		return fmt.Errorf("gstout: push buffer: flow %v", ret)
	}
	o.framesPushed.Add(1)
	slog.Debug("gstout: frame pushed",
		"seq", f.Seq, "size_bytes", len(f.Data), "trace_id", f.TraceID)
	return nil
}

// Run pulls frames from src and pushes them until the stream closes or ctx
// ends. A closed stream sends end-of-stream downstream and returns nil.
func (o *Output) Run(ctx context.Context, src FrameSource) error {
	for {
		f, err := src.NextFrameContext(ctx)
		if errors.Is(err, rpicam.ErrStreamClosed) {
			o.src.EndStream()
			slog.Info("gstout: stream closed", "frames_pushed", o.framesPushed.Load())
			return nil
		}
		if err != nil {
			return err
		}
		if err := o.Push(f); err != nil {
			slog.Warn("gstout: dropping frame after push failure",
				"seq", f.Seq, "error", err)
		}
	}
}

// FramesPushed returns the number of frames accepted by the appsrc.
func (o *Output) FramesPushed() uint64 { return o.framesPushed.Load() }

// Close stops the pipeline and releases its resources. Safe to call after
// a failed Start.
func (o *Output) Close() error {
	if err := o.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstout: failed to set pipeline to NULL: %w", err)
	}
	return nil
}
