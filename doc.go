// Package rpicam captures hardware-encoded video from a Raspberry Pi style
// camera stack: a raw capture block tunneled into a hardware H.264/MJPEG
// encoder, with encoded frames pulled one at a time from a blocking source.
//
// # Quick Start
//
// Capture H.264 frames with the default 1080p30 configuration:
//
//	cfg := rpicam.DefaultConfig()
//	cam, err := rpicam.NewCamera(cfg, runtime)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cam.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer cam.Stop()
//
//	for {
//	    frame, err := cam.NextFrame()
//	    if errors.Is(err, rpicam.ErrStreamClosed) {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    // frame.Data is one encoded frame (Annex-B byte stream for H.264)
//	    consume(frame)
//	}
//
// The runtime argument is the hardware binding behind the hw.Runtime
// contract. On a device this is the firmware-backed runtime; tests and the
// daemon's --simulate mode use hw/simhw, which reproduces the firmware's
// lifecycle rules in process.
//
// # Pipeline
//
// Start builds a two-stage hardware pipeline:
//
//	capture (video port) ──tunnel──> encoder ──buffers──> callback ──> NextFrame
//
// Raw frames cross the capture→encoder tunnel in hardware memory and never
// become host-visible. Encoded output arrives on a runtime-owned callback
// thread, is copied out, and the carrying buffer is recycled to the encoder
// immediately, so a slow consumer delays delivery but never stalls or
// starves the encoder. Frames are delivered strictly in production order
// and are never dropped.
//
// # Rate Policy
//
// The encoder enforces H.264 level limits. Requests beyond what the
// configured level can carry are adjusted at construction time: 1080p60
// escalates level 4 to 4.2, bitrates above the level maximum are clamped,
// and throughput beyond the hardware's macroblock ceiling is rejected with
// ErrConfig. Stats reports the effective values.
//
// # Lifecycle
//
//   - NewCamera validates the configuration and runs the rate policy;
//     nothing touches the hardware yet.
//   - Start allocates and enables everything, or tears down what it built
//     and returns ErrResource.
//   - Stop disables and destroys the pipeline in reverse order, wakes any
//     blocked NextFrame caller, and discards frames still queued.
//   - A stopped camera (including after a failed Start) can be started
//     again.
//
// # Outputs
//
// The transport package streams frames as RTP over UDP (pion/rtp); the
// gstout package feeds them into a GStreamer pipeline via appsrc; the
// ctlserver package serves property introspection, staged reconfiguration
// and stats over HTTP. The cmd/rpi-cam-control daemon wires all of them
// together.
package rpicam
