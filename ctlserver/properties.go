package ctlserver

import (
	"fmt"
	"math"

	rpicam "github.com/aDifferentJT/rpi-cam-control"
)

// Property is one configuration field as exposed over the wire: its current
// (staged) value, the build-time default, and the accepted range.
type Property struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"` // "int", "bool", "string"
	Value   any      `json:"value"`
	Default any      `json:"default"`
	Min     *int     `json:"min,omitempty"`
	Max     *int     `json:"max,omitempty"`
	Enum    []string `json:"enum,omitempty"`
}

// propertyDef binds a wire name to the Config field behind it.
type propertyDef struct {
	name string
	typ  string
	min  *int
	max  *int
	enum []string
	get  func(rpicam.Config) any
	set  func(*rpicam.Config, any) error
}

func intRange(lo, hi int) (*int, *int) { return &lo, &hi }

func asInt(v any) (int, error) {
	// JSON numbers decode as float64.
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", v)
	}
	return int(f), nil
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("not a boolean: %v", v)
	}
	return b, nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("not a string: %v", v)
	}
	return s, nil
}

func intProp(name string, lo, hi int, get func(rpicam.Config) int, set func(*rpicam.Config, int)) propertyDef {
	minV, maxV := intRange(lo, hi)
	return propertyDef{
		name: name, typ: "int", min: minV, max: maxV,
		get: func(c rpicam.Config) any { return get(c) },
		set: func(c *rpicam.Config, v any) error {
			n, err := asInt(v)
			if err != nil {
				return err
			}
			set(c, n)
			return nil
		},
	}
}

func boolProp(name string, get func(rpicam.Config) bool, set func(*rpicam.Config, bool)) propertyDef {
	return propertyDef{
		name: name, typ: "bool",
		get: func(c rpicam.Config) any { return get(c) },
		set: func(c *rpicam.Config, v any) error {
			b, err := asBool(v)
			if err != nil {
				return err
			}
			set(c, b)
			return nil
		},
	}
}

func enumProp(name string, values []string, get func(rpicam.Config) string, set func(*rpicam.Config, string)) propertyDef {
	return propertyDef{
		name: name, typ: "string", enum: values,
		get: func(c rpicam.Config) any { return get(c) },
		set: func(c *rpicam.Config, v any) error {
			s, err := asString(v)
			if err != nil {
				return err
			}
			set(c, s)
			return nil
		},
	}
}

// propertyDefs lists every remotely settable field. Validation of the
// combined configuration happens through Config.Validate after each set, so
// the per-field ranges here are descriptive for clients.
func propertyDefs() []propertyDef {
	return []propertyDef{
		intProp("camera_num", 0, 3,
			func(c rpicam.Config) int { return c.CameraNum },
			func(c *rpicam.Config, v int) { c.CameraNum = v }),
		intProp("sensor_mode", 0, 7,
			func(c rpicam.Config) int { return c.SensorMode },
			func(c *rpicam.Config, v int) { c.SensorMode = v }),
		intProp("width", 64, 4096,
			func(c rpicam.Config) int { return c.Width },
			func(c *rpicam.Config, v int) { c.Width = v }),
		intProp("height", 64, 4096,
			func(c rpicam.Config) int { return c.Height },
			func(c *rpicam.Config, v int) { c.Height = v }),
		intProp("framerate", 1, 120,
			func(c rpicam.Config) int { return c.Framerate },
			func(c *rpicam.Config, v int) { c.Framerate = v }),
		intProp("bitrate", 0, 62_500_000,
			func(c rpicam.Config) int { return c.Bitrate },
			func(c *rpicam.Config, v int) { c.Bitrate = v }),
		enumProp("codec", []string{"h264", "mjpeg"},
			func(c rpicam.Config) string { return string(c.Codec) },
			func(c *rpicam.Config, v string) { c.Codec = rpicam.Codec(v) }),
		enumProp("profile", []string{"baseline", "main", "high"},
			func(c rpicam.Config) string { return c.Profile },
			func(c *rpicam.Config, v string) { c.Profile = v }),
		enumProp("level", []string{"4", "4.1", "4.2"},
			func(c rpicam.Config) string { return c.Level },
			func(c *rpicam.Config, v string) { c.Level = v }),
		intProp("quantization", 0, 51,
			func(c rpicam.Config) int { return c.Quantization },
			func(c *rpicam.Config, v int) { c.Quantization = v }),
		intProp("intra_period", -1, 1<<30,
			func(c rpicam.Config) int { return c.IntraPeriod },
			func(c *rpicam.Config, v int) { c.IntraPeriod = v }),
		enumProp("intra_refresh", []string{"none", "cyclic", "adaptive", "both", "cyclicrows"},
			func(c rpicam.Config) string { return c.IntraRefresh },
			func(c *rpicam.Config, v string) { c.IntraRefresh = v }),
		boolProp("inline_headers",
			func(c rpicam.Config) bool { return c.InlineHeaders },
			func(c *rpicam.Config, v bool) { c.InlineHeaders = v }),
		boolProp("sps_timings",
			func(c rpicam.Config) bool { return c.SPSTimings },
			func(c *rpicam.Config, v bool) { c.SPSTimings = v }),
		intProp("slices", 1, 1<<30,
			func(c rpicam.Config) int { return c.Slices },
			func(c *rpicam.Config, v int) { c.Slices = v }),
		enumProp("stereo_mode", []string{"none", "side-by-side", "top-bottom"},
			func(c rpicam.Config) string { return c.StereoMode },
			func(c *rpicam.Config, v string) { c.StereoMode = v }),
		boolProp("stereo_decimate",
			func(c rpicam.Config) bool { return c.StereoDecimate },
			func(c *rpicam.Config, v bool) { c.StereoDecimate = v }),
		boolProp("stereo_swap_eyes",
			func(c rpicam.Config) bool { return c.StereoSwapEyes },
			func(c *rpicam.Config, v bool) { c.StereoSwapEyes = v }),
	}
}
