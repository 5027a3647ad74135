package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"

	rpicam "github.com/aDifferentJT/rpi-cam-control"
)

// newListener opens a loopback UDP socket and returns it with its port.
func newListener(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

// annexBFrame is a single IDR NAL with a start code, enough for the H.264
// payloader to emit real packets.
func annexBFrame(size int) []byte {
	buf := make([]byte, size)
	copy(buf, []byte{0, 0, 0, 1, 0x65})
	for i := 5; i < size; i++ {
		buf[i] = byte(i)
	}
	return buf
}

func receivePackets(t *testing.T, conn *net.UDPConn, atLeast int) []*rtp.Packet {
	t.Helper()
	var packets []*rtp.Packet
	buf := make([]byte, 65536)
	for len(packets) < atLeast {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatal(err)
		}
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read after %d packets: %v", len(packets), err)
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), buf[:n]...)); err != nil {
			t.Fatalf("unmarshal packet %d: %v", len(packets), err)
		}
		packets = append(packets, pkt)
	}
	return packets
}

func TestNewSenderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"mjpeg unsupported", Config{Host: "127.0.0.1", Port: 5004, Codec: rpicam.CodecMJPEG, Framerate: 30}},
		{"missing host", Config{Port: 5004, Codec: rpicam.CodecH264, Framerate: 30}},
		{"bad port", Config{Host: "127.0.0.1", Port: 0, Codec: rpicam.CodecH264, Framerate: 30}},
		{"bad framerate", Config{Host: "127.0.0.1", Port: 5004, Codec: rpicam.CodecH264}},
		{"tiny mtu", Config{Host: "127.0.0.1", Port: 5004, Codec: rpicam.CodecH264, Framerate: 30, MTU: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSender(tt.cfg); err == nil {
				t.Fatal("NewSender accepted an invalid config")
			}
		})
	}

	cfg := Config{Host: "127.0.0.1", Port: 5004, Codec: rpicam.CodecMJPEG, Framerate: 30}
	if _, err := NewSender(cfg); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("MJPEG error = %v, want ErrUnsupportedCodec", err)
	}
}

func TestSenderPacketization(t *testing.T) {
	conn, port := newListener(t)

	s, err := NewSender(Config{
		Host:      "127.0.0.1",
		Port:      port,
		Codec:     rpicam.CodecH264,
		Framerate: 30,
		MTU:       1200,
		SSRC:      0xDECAFBAD,
	})
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	defer s.Close()

	// A 4000-byte frame at MTU 1200 must fragment into several packets.
	if err := s.Send(rpicam.Frame{Seq: 1, Data: annexBFrame(4000)}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	packets := receivePackets(t, conn, 4)
	for i, pkt := range packets {
		if pkt.SSRC != 0xDECAFBAD {
			t.Errorf("packet %d SSRC = %x, want DECAFBAD", i, pkt.SSRC)
		}
		if pkt.PayloadType != 96 {
			t.Errorf("packet %d payload type = %d, want 96", i, pkt.PayloadType)
		}
		if i > 0 && pkt.SequenceNumber != packets[i-1].SequenceNumber+1 {
			t.Errorf("packet %d sequence %d does not follow %d",
				i, pkt.SequenceNumber, packets[i-1].SequenceNumber)
		}
		if i > 0 && pkt.Timestamp != packets[0].Timestamp {
			t.Errorf("packet %d timestamp %d differs within one frame", i, pkt.Timestamp)
		}
		last := i == len(packets)-1
		if pkt.Marker != last {
			t.Errorf("packet %d marker = %v, want %v", i, pkt.Marker, last)
		}
	}

	st := s.Stats()
	if st.FramesSent != 1 {
		t.Errorf("FramesSent = %d, want 1", st.FramesSent)
	}
	if st.PacketsSent != uint64(len(packets)) {
		t.Errorf("PacketsSent = %d, want %d", st.PacketsSent, len(packets))
	}
}

func TestSenderTimestampAdvancesPerFrame(t *testing.T) {
	conn, port := newListener(t)

	s, err := NewSender(Config{
		Host:      "127.0.0.1",
		Port:      port,
		Codec:     rpicam.CodecH264,
		Framerate: 30,
	})
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	defer s.Close()

	if err := s.Send(rpicam.Frame{Seq: 1, Data: annexBFrame(100)}); err != nil {
		t.Fatalf("Send #1: %v", err)
	}
	if err := s.Send(rpicam.Frame{Seq: 2, Data: annexBFrame(100)}); err != nil {
		t.Fatalf("Send #2: %v", err)
	}

	packets := receivePackets(t, conn, 2)
	// 90kHz clock at 30fps advances 3000 per frame.
	if got := packets[1].Timestamp - packets[0].Timestamp; got != 3000 {
		t.Errorf("timestamp delta = %d, want 3000", got)
	}
}

type stubSource struct {
	frames []rpicam.Frame
	i      int
}

func (s *stubSource) NextFrameContext(ctx context.Context) (rpicam.Frame, error) {
	if err := ctx.Err(); err != nil {
		return rpicam.Frame{}, err
	}
	if s.i >= len(s.frames) {
		return rpicam.Frame{}, rpicam.ErrStreamClosed
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

func TestRunDrainsSourceUntilClosed(t *testing.T) {
	conn, port := newListener(t)
	_ = conn

	s, err := NewSender(Config{
		Host:      "127.0.0.1",
		Port:      port,
		Codec:     rpicam.CodecH264,
		Framerate: 30,
	})
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	defer s.Close()

	src := &stubSource{frames: []rpicam.Frame{
		{Seq: 1, Data: annexBFrame(100)},
		{Seq: 2, Data: annexBFrame(100)},
		{Seq: 3, Data: annexBFrame(100)},
	}}
	if err := s.Run(context.Background(), src); err != nil {
		t.Fatalf("Run = %v, want nil on stream close", err)
	}
	if st := s.Stats(); st.FramesSent != 3 {
		t.Errorf("FramesSent = %d, want 3", st.FramesSent)
	}
}
