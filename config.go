package rpicam

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Codec selects the encoder output format.
type Codec string

const (
	CodecH264  Codec = "h264"
	CodecMJPEG Codec = "mjpeg"
)

// Config is the full capture configuration. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	CameraNum  int `yaml:"camera_num" mapstructure:"camera_num"`
	SensorMode int `yaml:"sensor_mode" mapstructure:"sensor_mode"`

	Width     int `yaml:"width" mapstructure:"width"`
	Height    int `yaml:"height" mapstructure:"height"`
	Framerate int `yaml:"framerate" mapstructure:"framerate"`

	Codec   Codec  `yaml:"codec" mapstructure:"codec"`
	Bitrate int    `yaml:"bitrate" mapstructure:"bitrate"`
	Profile string `yaml:"profile" mapstructure:"profile"`
	Level   string `yaml:"level" mapstructure:"level"`

	// Quantization 0 leaves rate control to the bitrate; any other value
	// fixes the initial, minimum and maximum QP.
	Quantization int `yaml:"quantization" mapstructure:"quantization"`

	// IntraPeriod -1 keeps the firmware default; 0 emits a single initial
	// key frame; N > 0 emits one every N frames.
	IntraPeriod int `yaml:"intra_period" mapstructure:"intra_period"`

	IntraRefresh  string `yaml:"intra_refresh" mapstructure:"intra_refresh"`
	InlineHeaders bool   `yaml:"inline_headers" mapstructure:"inline_headers"`
	SPSTimings    bool   `yaml:"sps_timings" mapstructure:"sps_timings"`
	Slices        int    `yaml:"slices" mapstructure:"slices"`

	StereoMode     string `yaml:"stereo_mode" mapstructure:"stereo_mode"`
	StereoDecimate bool   `yaml:"stereo_decimate" mapstructure:"stereo_decimate"`
	StereoSwapEyes bool   `yaml:"stereo_swap_eyes" mapstructure:"stereo_swap_eyes"`
}

// DefaultConfig returns the standard 1080p30 H.264 configuration.
func DefaultConfig() Config {
	return Config{
		CameraNum:    0,
		SensorMode:   0,
		Width:        1920,
		Height:       1080,
		Framerate:    30,
		Codec:        CodecH264,
		Bitrate:      17_000_000,
		Profile:      "high",
		Level:        "4",
		Quantization: 0,
		IntraPeriod:  -1,
		IntraRefresh: "none",
		Slices:       1,
		StereoMode:   "none",
	}
}

// Validate fail-fasts on any out-of-range field. Rate-policy checks that
// depend on the combination of resolution, frame rate and level happen in
// NewCamera, after validation.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
	}

	if c.CameraNum < 0 || c.CameraNum > 3 {
		return fail("camera_num %d out of range 0..3", c.CameraNum)
	}
	if c.SensorMode < 0 || c.SensorMode > 7 {
		return fail("sensor_mode %d out of range 0..7", c.SensorMode)
	}
	if c.Width < 64 || c.Width > 4096 {
		return fail("width %d out of range 64..4096", c.Width)
	}
	if c.Height < 64 || c.Height > 4096 {
		return fail("height %d out of range 64..4096", c.Height)
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		return fail("framerate %d out of range 1..120", c.Framerate)
	}
	if c.Bitrate < 0 || c.Bitrate > 62_500_000 {
		return fail("bitrate %d out of range 0..62500000", c.Bitrate)
	}

	switch c.Codec {
	case CodecH264, CodecMJPEG:
	default:
		return fail("codec %q not one of h264, mjpeg", c.Codec)
	}

	if c.Codec == CodecH264 {
		switch c.Profile {
		case "baseline", "main", "high":
		default:
			return fail("profile %q not one of baseline, main, high", c.Profile)
		}
		switch c.Level {
		case "4", "4.1", "4.2":
		default:
			return fail("level %q not one of 4, 4.1, 4.2", c.Level)
		}
	}

	if c.Quantization != 0 && (c.Quantization < 1 || c.Quantization > 51) {
		return fail("quantization %d out of range 1..51", c.Quantization)
	}
	if c.IntraPeriod < -1 {
		return fail("intra_period %d must be -1 or >= 0", c.IntraPeriod)
	}

	switch c.IntraRefresh {
	case "", "none", "cyclic", "adaptive", "both", "cyclicrows":
	default:
		return fail("intra_refresh %q not one of none, cyclic, adaptive, both, cyclicrows", c.IntraRefresh)
	}

	if c.Slices < 1 {
		return fail("slices %d must be >= 1", c.Slices)
	}

	switch c.StereoMode {
	case "", "none", "side-by-side", "top-bottom":
	default:
		return fail("stereo_mode %q not one of none, side-by-side, top-bottom", c.StereoMode)
	}

	return nil
}

// Dump writes the configuration as YAML, for verbose startup diagnostics
// and for round-tripping through LoadConfig.
func (c Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("rpicam: dump config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML configuration file on top of the defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rpicam: read config: %w", err)
	}
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
