// Package transport streams encoded frames out of the camera as RTP over
// UDP, the same wire format the GStreamer rtph264pay element produces.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	rpicam "github.com/aDifferentJT/rpi-cam-control"
)

// h264ClockRate is the RTP clock for H.264 (RFC 6184).
const h264ClockRate = 90000

// ErrUnsupportedCodec is returned for codecs without an RTP payloader.
var ErrUnsupportedCodec = errors.New("transport: no RTP payloader for codec")

// FrameSource is the pull side of the camera; *rpicam.Camera satisfies it.
type FrameSource interface {
	NextFrameContext(ctx context.Context) (rpicam.Frame, error)
}

// Config describes the RTP session.
type Config struct {
	// Host and Port address the receiver.
	Host string
	Port int

	// Codec selects the payloader. Only H.264 is supported; MJPEG streams
	// go out through the GStreamer adapter instead.
	Codec rpicam.Codec

	// Framerate paces the RTP timestamp, in frames per second.
	Framerate int

	// MTU bounds each RTP packet including the header. Default 1200.
	MTU int

	// PayloadType is the dynamic RTP payload type. Default 96.
	PayloadType uint8

	// SSRC identifies the stream; 0 picks a random one.
	SSRC uint32
}

// Stats is a snapshot of the sender's counters.
type Stats struct {
	FramesSent  uint64 `json:"frames_sent"`
	PacketsSent uint64 `json:"packets_sent"`
	BytesSent   uint64 `json:"bytes_sent"`
	SendErrors  uint64 `json:"send_errors"`
}

// Sender packetizes encoded frames and writes them to a UDP peer. One
// Sender serves one stream; it is not safe for concurrent Send calls.
type Sender struct {
	conn       *net.UDPConn
	packetizer rtp.Packetizer
	samples    uint32
	ssrc       uint32

	framesSent  atomic.Uint64
	packetsSent atomic.Uint64
	bytesSent   atomic.Uint64
	sendErrors  atomic.Uint64
}

// NewSender validates the config, resolves the peer, and opens the UDP
// socket.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.Codec != rpicam.CodecH264 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, cfg.Codec)
	}
	if cfg.Host == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("transport: invalid peer %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Framerate <= 0 {
		return nil, fmt.Errorf("transport: invalid framerate %d", cfg.Framerate)
	}
	if cfg.MTU == 0 {
		cfg.MTU = 1200
	}
	if cfg.MTU < 576 || cfg.MTU > 65507 {
		return nil, fmt.Errorf("transport: mtu %d out of range 576..65507", cfg.MTU)
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = 96
	}
	if cfg.SSRC == 0 {
		cfg.SSRC = rand.Uint32()
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	packetizer := rtp.NewPacketizer(
		uint16(cfg.MTU),
		cfg.PayloadType,
		cfg.SSRC,
		&codecs.H264Payloader{},
		rtp.NewRandomSequencer(),
		h264ClockRate,
	)

	slog.Info("transport: rtp sender ready",
		"peer", addr.String(), "ssrc", cfg.SSRC,
		"payload_type", cfg.PayloadType, "mtu", cfg.MTU)
	return &Sender{
		conn:       conn,
		packetizer: packetizer,
		samples:    uint32(h264ClockRate / cfg.Framerate),
		ssrc:       cfg.SSRC,
	}, nil
}

// Send packetizes one frame and writes every packet. The last packet of
// the frame carries the RTP marker bit.
func (s *Sender) Send(f rpicam.Frame) error {
	packets := s.packetizer.Packetize(f.Data, s.samples)
	for _, pkt := range packets {
		raw, err := pkt.Marshal()
		if err != nil {
			s.sendErrors.Add(1)
			return fmt.Errorf("transport: marshal packet: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			s.sendErrors.Add(1)
			return fmt.Errorf("transport: write packet: %w", err)
		}
		s.packetsSent.Add(1)
		s.bytesSent.Add(uint64(len(raw)))
	}
	s.framesSent.Add(1)
	slog.Debug("transport: frame sent",
		"seq", f.Seq, "packets", len(packets), "trace_id", f.TraceID)
	return nil
}

// Run pulls frames from src and sends them until the stream closes or ctx
// ends. Individual send failures are logged and skipped; a closed stream
// returns nil.
func (s *Sender) Run(ctx context.Context, src FrameSource) error {
	for {
		f, err := src.NextFrameContext(ctx)
		if errors.Is(err, rpicam.ErrStreamClosed) {
			slog.Info("transport: stream closed", "frames_sent", s.framesSent.Load())
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Send(f); err != nil {
			slog.Warn("transport: dropping frame after send failure",
				"seq", f.Seq, "error", err)
		}
	}
}

// Stats returns a snapshot of the sender's counters.
func (s *Sender) Stats() Stats {
	return Stats{
		FramesSent:  s.framesSent.Load(),
		PacketsSent: s.packetsSent.Load(),
		BytesSent:   s.bytesSent.Load(),
		SendErrors:  s.sendErrors.Load(),
	}
}

// Close releases the UDP socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
