// Package sampler pulls frames from a live source at a fixed cadence and
// hands them, one at a time, to a callback.
package sampler

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/image/draw"
)

// ErrNoSource is returned by Start when src is nil.
var ErrNoSource = errors.New("sampler: nil source")

// Source is anything that can report its latest frame. A nil image means no
// frame is ready yet.
type Source interface {
	Frame() image.Image
}

// Frame is one sampled frame as tightly packed RGBA. Pix is only valid for
// the duration of the callback; the sampler reuses it on the next tick.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	Seq    uint64
}

// FrameFunc is invoked for every sampled frame. It may call Stop.
type FrameFunc func(Frame)

type Config struct {
	// FPS is the sampling cadence. Zero means 15.
	FPS int
	// MaxWidth downscales wider frames before the callback sees them,
	// bounding the work per tick. Zero keeps the native size.
	MaxWidth int
}

// Sampler runs at most one sampling loop at a time.
type Sampler struct {
	interval time.Duration
	maxWidth int

	mu  sync.Mutex
	cur *run

	sampled metric.Int64Counter
	skipped metric.Int64Counter
}

type run struct {
	cancel  context.CancelFunc
	ctx     context.Context
	done    chan struct{}
	inFrame atomic.Bool
}

func New(cfg Config) *Sampler {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 15
	}

	meter := otel.Meter("github.com/wachiwi/gate-scanner/pkg/sampler")
	sampled, err := meter.Int64Counter("scanner.frames.sampled", metric.WithDescription("Frames handed to the decoder"))
	if err != nil {
		slog.Error("Failed to create sampled counter", "error", err)
	}
	skipped, err := meter.Int64Counter("scanner.frames.skipped", metric.WithDescription("Ticks without a usable frame"))
	if err != nil {
		slog.Error("Failed to create skipped counter", "error", err)
	}

	return &Sampler{
		interval: time.Second / time.Duration(fps),
		maxWidth: cfg.MaxWidth,
		sampled:  sampled,
		skipped:  skipped,
	}
}

// Start begins sampling src, stopping any previous loop first.
func (s *Sampler) Start(src Source, onFrame FrameFunc) error {
	if src == nil {
		return ErrNoSource
	}
	s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.cur = r
	s.mu.Unlock()

	go s.loop(r, src, onFrame)
	return nil
}

// Stop cancels the current loop. No callback starts after Stop returns.
// If a callback is running (including the one calling Stop) Stop returns
// without waiting for it; otherwise it waits for the loop to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.mu.Unlock()
	if r == nil {
		return
	}

	r.cancel()
	// Pairs with the store/check in loop: either the loop sees the
	// cancellation before calling back, or we see inFrame and don't wait.
	if r.inFrame.Load() {
		return
	}
	<-r.done
}

// Running reports whether a loop is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

func (s *Sampler) loop(r *run, src Source, onFrame FrameFunc) {
	defer close(r.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		buf *image.RGBA
		seq uint64
	)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
		if r.ctx.Err() != nil {
			return
		}

		img := src.Frame()
		if img == nil || img.Bounds().Empty() {
			// The first frames of a fresh session are often not ready yet.
			s.count(s.skipped, "no_frame")
			continue
		}
		buf = s.copyFrame(buf, img)
		seq++

		r.inFrame.Store(true)
		if r.ctx.Err() != nil {
			r.inFrame.Store(false)
			return
		}
		s.invoke(onFrame, Frame{Pix: buf.Pix, Width: buf.Rect.Dx(), Height: buf.Rect.Dy(), Seq: seq})
		r.inFrame.Store(false)
	}
}

func (s *Sampler) invoke(onFrame FrameFunc, f Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("Frame callback panicked", "seq", f.Seq, "panic", rec)
			s.count(s.skipped, "callback_panic")
		}
	}()
	s.count(s.sampled, "")
	onFrame(f)
}

// copyFrame draws img into buf, reallocating only when the target size
// changes. Frames wider than maxWidth are downscaled.
func (s *Sampler) copyFrame(buf *image.RGBA, img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if s.maxWidth > 0 && w > s.maxWidth {
		h = h * s.maxWidth / w
		w = s.maxWidth
		if h < 1 {
			h = 1
		}
	}

	if buf == nil || buf.Rect.Dx() != w || buf.Rect.Dy() != h {
		buf = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	if w == b.Dx() && h == b.Dy() {
		draw.Draw(buf, buf.Rect, img, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(buf, buf.Rect, img, b, draw.Src, nil)
	}
	return buf
}

func (s *Sampler) count(c metric.Int64Counter, reason string) {
	if c == nil {
		return
	}
	if reason == "" {
		c.Add(context.Background(), 1)
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
