package simhw

import (
	"time"

	"github.com/aDifferentJT/rpi-cam-control/hw"
)

// Option customizes the simulated runtime.
type Option func(*Runtime)

// WithFrameInterval sets the wall-clock spacing between produced frames.
// The default is 5ms so tests run fast regardless of the configured
// frame rate.
func WithFrameInterval(d time.Duration) Option {
	return func(r *Runtime) { r.frameInterval = d }
}

// WithFrameCount limits how many payload frames the encoder produces; 0
// means unlimited.
func WithFrameCount(n int) Option {
	return func(r *Runtime) { r.frameCount = n }
}

// WithPayloadSize sets the synthetic encoded-frame size in bytes.
func WithPayloadSize(n int) Option {
	return func(r *Runtime) { r.payloadSize = n }
}

// WithConfigBuffer makes the encoder emit one codec-config buffer (stream
// headers) before the first payload frame.
func WithConfigBuffer() Option {
	return func(r *Runtime) { r.emitConfig = true }
}

// WithEmptyEvery makes every nth produced buffer a zero-length heartbeat.
func WithEmptyEvery(n int) Option {
	return func(r *Runtime) { r.emptyEvery = n }
}

// WithCreateFailure makes NewComponent fail for the given kind.
func WithCreateFailure(kind hw.Kind) Option {
	return func(r *Runtime) { r.failCreate[kind] = true }
}

// WithEnableFailure makes Component.Enable fail for the given kind.
func WithEnableFailure(kind hw.Kind) Option {
	return func(r *Runtime) { r.failEnable[kind] = true }
}

// WithConnectFailure makes Runtime.Connect fail.
func WithConnectFailure() Option {
	return func(r *Runtime) { r.failConnect = true }
}

// WithTunnelEnableFailure makes Connection.Enable fail.
func WithTunnelEnableFailure() Option {
	return func(r *Runtime) { r.failTunnelEnable = true }
}

// WithCommitFailure makes CommitFormat fail on the named port.
func WithCommitFailure(portName string) Option {
	return func(r *Runtime) { r.failCommit[portName] = true }
}

// WithPortEnableFailure makes Port.Enable fail on the named port.
func WithPortEnableFailure(portName string) Option {
	return func(r *Runtime) { r.failPortEnable[portName] = true }
}

// WithSetParamFailure makes SetParam fail for the given parameter on every
// port.
func WithSetParamFailure(id hw.Param) Option {
	return func(r *Runtime) { r.failSetParam[id] = true }
}

// WithParamReadFailure makes Param (read-back) fail for the given parameter
// on every port. Mirrors older firmware that rejects reads of parameters it
// still accepts writes for.
func WithParamReadFailure(id hw.Param) Option {
	return func(r *Runtime) { r.failReadParam[id] = true }
}
