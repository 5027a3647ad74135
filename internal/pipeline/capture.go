package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

// Capture block port indices, fixed by the firmware.
const (
	capturePortPreview = 0
	capturePortVideo   = 1
	capturePortStill   = 2
)

// captureStage is the configured, not yet enabled capture block.
type captureStage struct {
	comp  hw.Component
	video hw.Port
}

// setupCapture creates the capture block and commits its video format:
// camera selection and sensor mode first, then the one-shot geometry config,
// then the aligned opaque format on the video port. On any failure the
// component is destroyed before returning.
func setupCapture(rt hw.Runtime, s Settings) (*captureStage, error) {
	comp, err := rt.NewComponent(hw.KindCapture)
	if err != nil {
		return nil, fmt.Errorf("create capture component: %w", err)
	}
	st := &captureStage{comp: comp}

	fail := func(err error) (*captureStage, error) {
		_ = comp.Destroy()
		return nil, err
	}

	if s.StereoMode != "none" && s.StereoMode != "" {
		sm := hw.StereoMode{Mode: s.StereoMode, Decimate: s.StereoDecimate, SwapEyes: s.StereoSwapEyes}
		// Stereo applies to all three outputs, before the camera is selected.
		for i := 0; i < comp.NumOutputs(); i++ {
			if err := comp.Output(i).SetParam(hw.ParamStereoMode, sm); err != nil {
				return fail(fmt.Errorf("set stereo mode on output %d: %w", i, err))
			}
		}
	}

	ctl := comp.Control()
	if err := ctl.SetParam(hw.ParamCameraNum, s.CameraNum); err != nil {
		return fail(fmt.Errorf("select camera %d: %w", s.CameraNum, err))
	}
	if s.SensorMode != 0 {
		if err := ctl.SetParam(hw.ParamSensorMode, s.SensorMode); err != nil {
			return fail(fmt.Errorf("set sensor mode %d: %w", s.SensorMode, err))
		}
	}

	cfg := hw.CameraConfig{
		MaxVideoWidth:   alignUp(s.Width, widthAlign),
		MaxVideoHeight:  alignUp(s.Height, heightAlign),
		NumVideoFrames:  numVideoFrames(s.Framerate),
		UseSTCTimestamp: true,
	}
	if err := ctl.SetParam(hw.ParamCameraConfig, cfg); err != nil {
		return fail(fmt.Errorf("set camera config: %w", err))
	}

	// Preview and video carry the same geometry; the still port keeps its
	// defaults since this pipeline never captures stills.
	format := hw.Format{
		Encoding:        hw.EncodingOpaque,
		EncodingVariant: hw.EncodingI420,
		Width:           alignUp(s.Width, widthAlign),
		Height:          alignUp(s.Height, heightAlign),
		Crop:            hw.Rect{Width: s.Width, Height: s.Height},
		FrameRate:       hw.Rational{Num: s.Framerate, Den: 1},
	}

	preview := comp.Output(capturePortPreview)
	*preview.Format() = format
	if err := preview.CommitFormat(); err != nil {
		return fail(fmt.Errorf("commit preview format: %w", err))
	}

	video := comp.Output(capturePortVideo)
	*video.Format() = format
	if err := video.CommitFormat(); err != nil {
		return fail(fmt.Errorf("commit video format: %w", err))
	}

	c := video.BufferConstraints()
	count := c.CountRecommended
	if count < minVideoBuffers {
		count = minVideoBuffers
	}
	video.SetBuffering(count, c.SizeRecommended)

	st.video = video
	slog.Debug("pipeline: capture stage configured",
		"width", format.Width, "height", format.Height,
		"crop_width", s.Width, "crop_height", s.Height,
		"fps", s.Framerate, "video_buffers", count)
	return st, nil
}
