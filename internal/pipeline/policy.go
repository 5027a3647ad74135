package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

// Frame geometry alignment required by the ISP.
const (
	widthAlign  = 32
	heightAlign = 16
)

// Encoder rate limits. The hardware encoder tops out at H.264 level 4.2.
const (
	maxBitrateLevel4  = 25_000_000 // H264 level 4
	maxBitrateLevel42 = 62_500_000 // H264 levels 4.1 and 4.2
	maxBitrateMJPEG   = 25_000_000

	// Macroblock/s throughput thresholds: above the first, level 4 streams
	// must escalate to 4.2; above the second, the encoder cannot keep up.
	mbpsEscalateLimit = 245_760
	mbpsHardLimit     = 522_240
)

// minVideoBuffers is the floor on in-flight buffers at the capture video
// port; fewer starves the ISP.
const minVideoBuffers = 3

// alignUp rounds v up to the next multiple of align (a power of two).
func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

// numVideoFrames returns the raw-frame headroom the capture block should
// allocate: three frames, plus one per 10 fps above 30.
func numVideoFrames(fps int) int {
	n := 3
	if fps > 30 {
		n += (fps - 30) / 10
	}
	return n
}

// macroblocksPerSecond is the encoder throughput the settings demand, in
// 16x16 macroblocks per second.
func macroblocksPerSecond(width, height, fps int) int {
	mbw := alignUp(width, 16) >> 4
	mbh := alignUp(height, 16) >> 4
	return mbw * mbh * fps
}

// PlanEncoding runs the encoder rate policy: it escalates the H.264 level
// when the macroblock throughput exceeds what level 4 can carry, rejects
// settings beyond the hardware ceiling, and clamps the bitrate to the
// selected level's maximum. The returned values are what gets committed to
// the encoder.
func PlanEncoding(s Settings) (bitrate int, level string, err error) {
	bitrate = s.Bitrate
	level = s.Level

	switch s.Codec {
	case hw.EncodingMJPEG:
		if bitrate > maxBitrateMJPEG {
			slog.Warn("pipeline: bitrate above MJPEG maximum, clamping",
				"requested", bitrate, "max", maxBitrateMJPEG)
			bitrate = maxBitrateMJPEG
		}
		return bitrate, "", nil

	case hw.EncodingH264:
		mbps := macroblocksPerSecond(s.Width, s.Height, s.Framerate)
		if mbps > mbpsHardLimit {
			return 0, "", fmt.Errorf("pipeline: %dx%d@%dfps needs %d macroblocks/s, above the %d hardware limit",
				s.Width, s.Height, s.Framerate, mbps, mbpsHardLimit)
		}
		if mbps > mbpsEscalateLimit && level == "4" {
			slog.Warn("pipeline: macroblock rate too high for level 4, forcing level 4.2",
				"macroblocks_per_sec", mbps, "limit", mbpsEscalateLimit)
			level = "4.2"
		}

		limit := maxBitrateLevel4
		if level == "4.1" || level == "4.2" {
			limit = maxBitrateLevel42
		}
		if bitrate > limit {
			slog.Warn("pipeline: bitrate above level maximum, clamping",
				"requested", bitrate, "level", level, "max", limit)
			bitrate = limit
		}
		return bitrate, level, nil

	default:
		return 0, "", fmt.Errorf("pipeline: unsupported codec %q", s.Codec)
	}
}

// sliceRows returns the macroblock rows per slice for the requested slice
// count: the frame's macroblock rows divided by slices, rounded up so every
// slice is covered.
func sliceRows(height, slices int) int {
	mbRows := alignUp(height, 16) >> 4
	if slices > mbRows {
		slog.Warn("pipeline: more slices than macroblock rows, one row per slice",
			"slices", slices, "mb_rows", mbRows)
		return 1
	}
	return (mbRows + slices - 1) / slices
}
