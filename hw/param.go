package hw

import "fmt"

// Param identifies a port parameter. The value type each parameter carries
// is listed next to its constant.
type Param int

const (
	// ParamCameraNum selects the physical camera (int).
	ParamCameraNum Param = iota
	// ParamSensorMode selects a fixed sensor readout mode, 0 = auto (int).
	ParamSensorMode
	// ParamStereoMode configures stereoscopic capture (StereoMode).
	ParamStereoMode
	// ParamCameraConfig is the one-shot camera geometry setup (CameraConfig).
	ParamCameraConfig
	// ParamCapture starts/stops frame production on a video port (bool).
	ParamCapture
	// ParamIntraPeriod is the key-frame interval in frames; 0 means a single
	// initial key frame (uint32).
	ParamIntraPeriod
	// ParamQPInitial is the initial quantization parameter (uint32).
	ParamQPInitial
	// ParamQPMin is the quantization floor (uint32).
	ParamQPMin
	// ParamQPMax is the quantization ceiling (uint32).
	ParamQPMax
	// ParamProfileLevel selects the codec profile and level (ProfileLevel).
	ParamProfileLevel
	// ParamInlineHeaders makes the encoder repeat stream headers at each key
	// frame (bool).
	ParamInlineHeaders
	// ParamSPSTimings adds timing metadata to the stream headers (bool).
	ParamSPSTimings
	// ParamIntraRefresh configures rolling intra refresh (IntraRefresh).
	ParamIntraRefresh
	// ParamMBRowsPerSlice sets the macroblock-row count of each slice
	// (uint32).
	ParamMBRowsPerSlice
)

// String returns the parameter's symbolic name.
func (p Param) String() string {
	names := map[Param]string{
		ParamCameraNum:      "camera-num",
		ParamSensorMode:     "sensor-mode",
		ParamStereoMode:     "stereo-mode",
		ParamCameraConfig:   "camera-config",
		ParamCapture:        "capture",
		ParamIntraPeriod:    "intra-period",
		ParamQPInitial:      "qp-initial",
		ParamQPMin:          "qp-min",
		ParamQPMax:          "qp-max",
		ParamProfileLevel:   "profile-level",
		ParamInlineHeaders:  "inline-headers",
		ParamSPSTimings:     "sps-timings",
		ParamIntraRefresh:   "intra-refresh",
		ParamMBRowsPerSlice: "mb-rows-per-slice",
	}
	if s, ok := names[p]; ok {
		return s
	}
	return fmt.Sprintf("param(%d)", int(p))
}

// StereoMode is the value of ParamStereoMode.
type StereoMode struct {
	Mode     string // "none", "side-by-side", "top-bottom"
	Decimate bool
	SwapEyes bool
}

// CameraConfig is the value of ParamCameraConfig. It fixes the capture
// geometry and the number of in-flight raw frames before the component is
// enabled.
type CameraConfig struct {
	MaxVideoWidth   int
	MaxVideoHeight  int
	NumVideoFrames  int
	UseSTCTimestamp bool
}

// ProfileLevel is the value of ParamProfileLevel.
type ProfileLevel struct {
	Profile string // "baseline", "main", "high"
	Level   string // "4", "4.1", "4.2"
}

// IntraRefresh is the value of ParamIntraRefresh. Implementations populate
// the macroblock counts when the parameter is read back, so callers can do a
// read-modify-write without clobbering firmware defaults.
type IntraRefresh struct {
	Mode   string // "cyclic", "adaptive", "both", "cyclicrows"
	AirMBs uint32
	AirRef uint32
	CirMBs uint32
	PirMBs uint32
}
