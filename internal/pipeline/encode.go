package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

// encodeStage is the configured, not yet enabled encoder block.
type encodeStage struct {
	comp hw.Component
	in   hw.Port
	out  hw.Port

	bitrate int
	level   string
}

// setupEncoder creates the encoder block, commits its formats, and applies
// the codec parameters. The input format is copied from the capture video
// port; the output carries the codec and the policy-adjusted bitrate with a
// zeroed frame rate so the tunnel propagates the capture rate. On any
// failure the component is destroyed before returning.
func setupEncoder(rt hw.Runtime, s Settings, videoFormat hw.Format) (*encodeStage, error) {
	bitrate, level, err := PlanEncoding(s)
	if err != nil {
		return nil, err
	}

	comp, err := rt.NewComponent(hw.KindEncode)
	if err != nil {
		return nil, fmt.Errorf("create encoder component: %w", err)
	}
	st := &encodeStage{comp: comp, bitrate: bitrate, level: level}

	fail := func(err error) (*encodeStage, error) {
		_ = comp.Destroy()
		return nil, err
	}

	in := comp.Input(0)
	*in.Format() = videoFormat
	if err := in.CommitFormat(); err != nil {
		return fail(fmt.Errorf("commit encoder input format: %w", err))
	}

	out := comp.Output(0)
	outFormat := videoFormat
	outFormat.Encoding = s.Codec
	outFormat.EncodingVariant = ""
	outFormat.Bitrate = bitrate
	outFormat.FrameRate = hw.Rational{Num: 0, Den: 1}
	*out.Format() = outFormat
	if err := out.CommitFormat(); err != nil {
		return fail(fmt.Errorf("commit encoder output format: %w", err))
	}

	if s.Codec == hw.EncodingH264 {
		if err := applyH264Params(out, s, level); err != nil {
			return fail(err)
		}
	}

	c := out.BufferConstraints()
	count := c.CountRecommended
	if count < c.CountMin {
		count = c.CountMin
	}
	size := c.SizeRecommended
	if size < c.SizeMin {
		size = c.SizeMin
	}
	out.SetBuffering(count, size)

	st.in = in
	st.out = out
	slog.Debug("pipeline: encode stage configured",
		"codec", string(s.Codec), "bitrate", bitrate, "level", level,
		"buffers", count, "buffer_size", size)
	return st, nil
}

// applyH264Params writes the H.264 tuning parameters to the encoder output
// port in the order the firmware expects.
func applyH264Params(out hw.Port, s Settings, level string) error {
	if s.IntraPeriod >= 0 {
		if err := out.SetParam(hw.ParamIntraPeriod, uint32(s.IntraPeriod)); err != nil {
			return fmt.Errorf("set intra period: %w", err)
		}
	}

	if s.Quantization != 0 {
		qp := uint32(s.Quantization)
		if err := out.SetParam(hw.ParamQPInitial, qp); err != nil {
			return fmt.Errorf("set initial quantization: %w", err)
		}
		if err := out.SetParam(hw.ParamQPMin, qp); err != nil {
			return fmt.Errorf("set quantization floor: %w", err)
		}
		if err := out.SetParam(hw.ParamQPMax, qp); err != nil {
			return fmt.Errorf("set quantization ceiling: %w", err)
		}
	}

	pl := hw.ProfileLevel{Profile: s.Profile, Level: level}
	if err := out.SetParam(hw.ParamProfileLevel, pl); err != nil {
		return fmt.Errorf("set profile/level %s/%s: %w", pl.Profile, pl.Level, err)
	}

	if err := out.SetParam(hw.ParamInlineHeaders, s.InlineHeaders); err != nil {
		return fmt.Errorf("set inline headers: %w", err)
	}
	if err := out.SetParam(hw.ParamSPSTimings, s.SPSTimings); err != nil {
		return fmt.Errorf("set sps timings: %w", err)
	}

	if s.Slices > 1 {
		rows := sliceRows(s.Height, s.Slices)
		if err := out.SetParam(hw.ParamMBRowsPerSlice, uint32(rows)); err != nil {
			return fmt.Errorf("set slice rows: %w", err)
		}
	}

	if s.IntraRefresh != "" && s.IntraRefresh != "none" {
		// Read-modify-write so the firmware's refresh tuning fields survive.
		// Some firmware rejects the read while accepting the write; fall back
		// to zeroed fields in that case.
		var ir hw.IntraRefresh
		if v, err := out.Param(hw.ParamIntraRefresh); err == nil {
			ir = v.(hw.IntraRefresh)
		} else {
			slog.Warn("pipeline: intra refresh read-back failed, writing zeroed fields", "error", err)
		}
		ir.Mode = s.IntraRefresh
		if err := out.SetParam(hw.ParamIntraRefresh, ir); err != nil {
			return fmt.Errorf("set intra refresh %q: %w", s.IntraRefresh, err)
		}
	}

	return nil
}
