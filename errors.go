package rpicam

import "errors"

var (
	// ErrConfig wraps every configuration validation or rate-policy
	// rejection. Returned by NewCamera and Config.Validate.
	ErrConfig = errors.New("rpicam: invalid configuration")

	// ErrResource wraps hardware resource failures during Start: component
	// creation, format commits, enables, tunnel setup, pool allocation.
	// When Start returns it, everything already built has been torn down.
	ErrResource = errors.New("rpicam: resource creation failed")

	// ErrStreamClosed is returned by NextFrame once the camera is stopped
	// and every queued frame has been consumed.
	ErrStreamClosed = errors.New("rpicam: stream closed")
)
