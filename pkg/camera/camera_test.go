package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
)

type fakeStream struct {
	mu     sync.Mutex
	closed int
	img    image.Image
}

func (s *fakeStream) Frame() image.Image { return s.img }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDevice struct {
	mu      sync.Mutex
	streams []*fakeStream
	got     []Constraints
	err     error
}

func (d *fakeDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, c)
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{img: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if s.closeCount() == 0 {
			n++
		}
	}
	return n
}

func TestAcquireAppliesDefaults(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev)

	s, err := m.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release(s)

	want := Constraints{Width: 1280, Height: 720, FPS: 30, Facing: FacingRear}
	if dev.got[0] != want {
		t.Errorf("expected %+v, got %+v", want, dev.got[0])
	}
	if s.ID == "" || !s.Active() {
		t.Errorf("expected an active session with an id, got %+v", s)
	}
	if m.Current() != s {
		t.Error("expected Current to return the acquired session")
	}
	if s.Frame() == nil {
		t.Error("expected a frame from an active session")
	}
}

func TestAcquireReleasesPreviousSession(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev)

	first, err := m.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatal(err)
	}

	if first.Active() {
		t.Error("first session should have been released")
	}
	if dev.streams[0].closeCount() != 1 {
		t.Errorf("expected first stream closed once, got %d", dev.streams[0].closeCount())
	}
	if n := dev.live(); n != 1 {
		t.Errorf("expected exactly one live stream, got %d", n)
	}
	if first.Frame() != nil {
		t.Error("released session must not return frames")
	}

	m.Release(second)
	if n := dev.live(); n != 0 {
		t.Errorf("expected no live streams, got %d", n)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev)

	s, err := m.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatal(err)
	}

	m.Release(s)
	m.Release(s)
	m.Release(nil)

	if c := dev.streams[0].closeCount(); c != 1 {
		t.Errorf("expected stream closed exactly once, got %d", c)
	}
	if m.Current() != nil {
		t.Error("expected no current session")
	}
}

func TestReleaseStaleSessionKeepsCurrent(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev)

	old, _ := m.Acquire(context.Background(), Constraints{})
	cur, _ := m.Acquire(context.Background(), Constraints{})

	m.Release(old)

	if m.Current() != cur || !cur.Active() {
		t.Error("releasing a stale session must not touch the current one")
	}
}

func TestAcquireClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", ErrPermissionDenied, ErrPermissionDenied},
		{"not found wrapped", errors.Join(errors.New("open /dev/video0"), ErrDeviceNotFound), ErrDeviceNotFound},
		{"busy", ErrDeviceBusy, ErrDeviceBusy},
		{"other", errors.New("ioctl failed"), ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(&fakeDevice{err: tt.err})
			s, err := m.Acquire(context.Background(), Constraints{})
			if s != nil {
				t.Fatal("expected no session")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if m.Current() != nil {
				t.Error("failed acquire must not leave a current session")
			}
		})
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Acquire(ctx, Constraints{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if dev.live() != 0 {
		t.Error("stream opened for a cancelled acquire must be closed")
	}
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"ERROR: *** failed to acquire camera /base/soc/i2c0mux ***", ErrDeviceBusy},
		{"[video4linux2] open: Device or resource busy", ErrDeviceBusy},
		{"ERROR: *** no cameras available ***", ErrDeviceNotFound},
		{"/dev/video0: No such file or directory", ErrDeviceNotFound},
		{"open /dev/media0: Permission denied", ErrPermissionDenied},
		{"[AVFoundation] Failed to create AV capture input device: Not authorized", ErrPermissionDenied},
		{"segfault", ErrUnknown},
	}
	for _, tt := range tests {
		if got := classifyStderr(tt.msg); got != tt.want {
			t.Errorf("classifyStderr(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

type jpegStream struct {
	fakeStream
	data []byte
}

func (s *jpegStream) JPEG() []byte { return s.data }

func TestSessionJPEG(t *testing.T) {
	encoded := &Session{ID: "a", stream: &fakeStream{img: image.NewRGBA(image.Rect(0, 0, 8, 8))}}
	encoded.active.Store(true)
	if b := encoded.JPEG(); len(b) < 2 || b[0] != 0xFF || b[1] != 0xD8 {
		t.Errorf("expected an encoded JPEG, got %d bytes", len(b))
	}

	raw := &Session{ID: "b", stream: &jpegStream{data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}}
	raw.active.Store(true)
	if b := raw.JPEG(); len(b) != 4 {
		t.Errorf("expected passthrough frame, got %v", b)
	}

	raw.close()
	if raw.JPEG() != nil {
		t.Error("expected no frame from a released session")
	}
	var none *Session
	if none.JPEG() != nil {
		t.Error("expected nil session to have no frame")
	}
}
