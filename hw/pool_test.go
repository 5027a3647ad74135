package hw

import (
	"errors"
	"testing"
)

func TestNewPoolGeometry(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		size    int
		wantErr bool
	}{
		{"valid", 3, 65536, false},
		{"single buffer", 1, 1, false},
		{"zero count", 0, 65536, true},
		{"zero size", 3, 0, true},
		{"negative count", -1, 65536, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPool(tt.count, tt.size)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewPool(%d, %d) succeeded, want error", tt.count, tt.size)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPool(%d, %d) failed: %v", tt.count, tt.size, err)
			}
			if p.Count() != tt.count || p.Size() != tt.size {
				t.Errorf("pool geometry = %dx%d, want %dx%d", p.Count(), p.Size(), tt.count, tt.size)
			}
			if p.Free() != tt.count {
				t.Errorf("new pool has %d free buffers, want %d", p.Free(), tt.count)
			}
		})
	}
}

func TestPoolGetExhaustion(t *testing.T) {
	p, err := NewPool(2, 128)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	a, err := p.Get()
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	b, err := p.Get()
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if _, err := p.Get(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("third Get = %v, want ErrPoolExhausted", err)
	}
	if p.Outstanding() != 2 {
		t.Errorf("Outstanding() = %d, want 2", p.Outstanding())
	}

	if err := a.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if p.Free() != 2 {
		t.Errorf("Free() = %d after releasing all, want 2", p.Free())
	}
}

func TestPoolDoubleRelease(t *testing.T) {
	p, err := NewPool(1, 128)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	b, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := b.Release(); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}
	if err := b.Release(); !errors.Is(err, ErrDoubleRelease) {
		t.Fatalf("second Release = %v, want ErrDoubleRelease", err)
	}
	if p.Free() != 1 {
		t.Errorf("Free() = %d after double release, want 1", p.Free())
	}
}

func TestPoolForeignBuffer(t *testing.T) {
	p1, _ := NewPool(1, 128)
	p2, _ := NewPool(1, 128)
	b, err := p1.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := p2.put(b); !errors.Is(err, ErrForeignBuffer) {
		t.Fatalf("put into foreign pool = %v, want ErrForeignBuffer", err)
	}
}

func TestBufferFillAndLock(t *testing.T) {
	p, err := NewPool(1, 16)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	b, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	payload := []byte("frame-data")
	if err := b.Fill(payload, FlagFrameEnd|FlagKeyframe, 42); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	got := b.Lock()
	if string(got) != string(payload) {
		t.Errorf("Lock() = %q, want %q", got, payload)
	}
	b.Unlock()
	if b.Flags&FlagKeyframe == 0 {
		t.Error("keyframe flag lost")
	}
	if b.PTS != 42 {
		t.Errorf("PTS = %d, want 42", b.PTS)
	}

	if err := b.Fill(make([]byte, 17), 0, 0); !errors.Is(err, ErrBufferTooLarge) {
		t.Fatalf("oversized Fill = %v, want ErrBufferTooLarge", err)
	}

	if err := b.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if b.Length != 0 || b.Flags != 0 || b.PTS != 0 {
		t.Error("release did not reset buffer metadata")
	}
}
