package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Failure classes reported by Acquire. Device backends wrap one of these;
// anything else is wrapped with ErrUnknown.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("camera device not found")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrUnknown          = errors.New("camera error")
)

// Facing selects which camera to prefer on devices that have more than one.
type Facing string

const (
	FacingRear  Facing = "environment"
	FacingFront Facing = "user"
)

// Constraints is the capture request passed to a Device. Width, Height and
// FPS are hints; backends pick the closest mode they support.
type Constraints struct {
	Width  int
	Height int
	FPS    int
	Facing Facing
}

// WithDefaults fills zero fields with 1280x720 @ 30 fps, rear facing.
func (c Constraints) WithDefaults() Constraints {
	if c.Width == 0 {
		c.Width = 1280
	}
	if c.Height == 0 {
		c.Height = 720
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.Facing == "" {
		c.Facing = FacingRear
	}
	return c
}

// Device opens exclusive capture streams.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live capture. Frame returns the most recent frame, or nil
// while no frame is available yet. Close stops every underlying track.
type Stream interface {
	Frame() image.Image
	Close() error
}

// Session is one exclusive hold on the camera. Only the Manager that
// created it may close it; everyone else just reads frames.
type Session struct {
	ID     string
	stream Stream
	active atomic.Bool
	once   sync.Once
}

// Frame returns the latest frame, or nil once the session is released.
func (s *Session) Frame() image.Image {
	if s == nil || !s.active.Load() {
		return nil
	}
	return s.stream.Frame()
}

// JPEG returns the latest frame as JPEG for previews. Streams that already
// carry JPEG frames are passed through without re-encoding.
func (s *Session) JPEG() []byte {
	if !s.Active() {
		return nil
	}
	if j, ok := s.stream.(interface{ JPEG() []byte }); ok {
		return j.JPEG()
	}
	img := s.stream.Frame()
	if img == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		slog.Debug("Failed to encode preview frame", "session", s.ID, "error", err)
		return nil
	}
	return buf.Bytes()
}

// Active reports whether the session still holds the device.
func (s *Session) Active() bool {
	return s != nil && s.active.Load()
}

func (s *Session) close() {
	s.once.Do(func() {
		s.active.Store(false)
		if err := s.stream.Close(); err != nil {
			slog.Warn("Error closing camera stream", "session", s.ID, "error", err)
		}
		slog.Info("Camera released", "session", s.ID)
	})
}

// Manager owns the single live Session for a Device.
type Manager struct {
	mu      sync.Mutex
	device  Device
	current *Session
}

func NewManager(device Device) *Manager {
	return &Manager{device: device}
}

// Acquire releases any open session and opens a new one.
func (m *Manager) Acquire(ctx context.Context, c Constraints) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.close()
		m.current = nil
	}

	c = c.WithDefaults()
	stream, err := m.device.Open(ctx, c)
	if err != nil {
		if stream != nil {
			stream.Close()
		}
		return nil, classify(err)
	}
	if err := ctx.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnknown, err)
	}

	s := &Session{ID: uuid.NewString(), stream: stream}
	s.active.Store(true)
	m.current = s
	slog.Info("Camera acquired", "session", s.ID, "width", c.Width, "height", c.Height, "fps", c.FPS, "facing", c.Facing)
	return s, nil
}

// Release closes s. It is safe to call with nil, with an already released
// session, and any number of times.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == s {
		m.current = nil
	}
	s.close()
}

// Current returns the live session, if any.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrDeviceBusy),
		errors.Is(err, ErrUnknown):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnknown, err)
	}
}
