package pipeline

import (
	"testing"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, align, want int
	}{
		{1920, 32, 1920},
		{1080, 16, 1088},
		{1, 32, 32},
		{64, 16, 64},
		{641, 32, 672},
	}
	for _, tt := range tests {
		if got := alignUp(tt.v, tt.align); got != tt.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tt.v, tt.align, got, tt.want)
		}
	}
}

func TestNumVideoFrames(t *testing.T) {
	tests := []struct {
		fps, want int
	}{
		{25, 3},
		{30, 3},
		{40, 4},
		{49, 4},
		{60, 6},
		{90, 9},
	}
	for _, tt := range tests {
		if got := numVideoFrames(tt.fps); got != tt.want {
			t.Errorf("numVideoFrames(%d) = %d, want %d", tt.fps, got, tt.want)
		}
	}
}

func TestPlanEncoding(t *testing.T) {
	base := Settings{
		Width:     1920,
		Height:    1080,
		Framerate: 30,
		Codec:     hw.EncodingH264,
		Bitrate:   17_000_000,
		Level:     "4",
	}

	t.Run("within level 4", func(t *testing.T) {
		bitrate, level, err := PlanEncoding(base)
		if err != nil {
			t.Fatalf("PlanEncoding failed: %v", err)
		}
		if bitrate != 17_000_000 || level != "4" {
			t.Errorf("got %d/%q, want 17000000/\"4\"", bitrate, level)
		}
	})

	t.Run("bitrate clamped to level 4 maximum", func(t *testing.T) {
		s := base
		s.Bitrate = 40_000_000
		bitrate, level, err := PlanEncoding(s)
		if err != nil {
			t.Fatalf("PlanEncoding failed: %v", err)
		}
		if bitrate != maxBitrateLevel4 {
			t.Errorf("bitrate = %d, want %d", bitrate, maxBitrateLevel4)
		}
		if level != "4" {
			t.Errorf("level = %q, want \"4\"", level)
		}
	})

	t.Run("1080p60 escalates to level 4.2", func(t *testing.T) {
		// 120x68 macroblocks at 60fps = 489600 mb/s, above the level 4 limit.
		s := base
		s.Framerate = 60
		s.Bitrate = 40_000_000
		bitrate, level, err := PlanEncoding(s)
		if err != nil {
			t.Fatalf("PlanEncoding failed: %v", err)
		}
		if level != "4.2" {
			t.Errorf("level = %q, want \"4.2\"", level)
		}
		if bitrate != 40_000_000 {
			t.Errorf("bitrate = %d, want 40000000 (level 4.2 allows it)", bitrate)
		}
	})

	t.Run("explicit level 4.2 keeps high bitrate", func(t *testing.T) {
		s := base
		s.Level = "4.2"
		s.Bitrate = 62_500_000
		bitrate, level, err := PlanEncoding(s)
		if err != nil {
			t.Fatalf("PlanEncoding failed: %v", err)
		}
		if bitrate != 62_500_000 || level != "4.2" {
			t.Errorf("got %d/%q, want 62500000/\"4.2\"", bitrate, level)
		}
	})

	t.Run("beyond hardware macroblock limit", func(t *testing.T) {
		s := base
		s.Width = 4096
		s.Height = 2160
		s.Framerate = 30
		if _, _, err := PlanEncoding(s); err == nil {
			t.Fatal("PlanEncoding accepted throughput above the hardware limit")
		}
	})

	t.Run("mjpeg clamps to its own maximum", func(t *testing.T) {
		s := base
		s.Codec = hw.EncodingMJPEG
		s.Bitrate = 40_000_000
		bitrate, level, err := PlanEncoding(s)
		if err != nil {
			t.Fatalf("PlanEncoding failed: %v", err)
		}
		if bitrate != maxBitrateMJPEG {
			t.Errorf("bitrate = %d, want %d", bitrate, maxBitrateMJPEG)
		}
		if level != "" {
			t.Errorf("level = %q, want empty for MJPEG", level)
		}
	})

	t.Run("unsupported codec", func(t *testing.T) {
		s := base
		s.Codec = hw.EncodingI420
		if _, _, err := PlanEncoding(s); err == nil {
			t.Fatal("PlanEncoding accepted a raw codec")
		}
	})
}

func TestSliceRows(t *testing.T) {
	tests := []struct {
		name   string
		height int
		slices int
		want   int
	}{
		{"1080p five slices", 1080, 5, 14}, // 68 rows / 5 -> ceil = 14
		{"1080p one slice", 1080, 1, 68},
		{"even split", 1024, 4, 16}, // 64 rows / 4
		{"more slices than rows", 64, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sliceRows(tt.height, tt.slices); got != tt.want {
				t.Errorf("sliceRows(%d, %d) = %d, want %d", tt.height, tt.slices, got, tt.want)
			}
		})
	}
}
