package sampler

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  int
	frames []image.Image // returned in order; the last one repeats
}

func (f *fakeSource) Frame() image.Image {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if len(f.frames) == 0 {
		return nil
	}
	if i >= len(f.frames) {
		i = len(f.frames) - 1
	}
	return f.frames[i]
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSamplerDeliversFrames(t *testing.T) {
	src := &fakeSource{frames: []image.Image{solid(8, 4, color.RGBA{R: 200, A: 255})}}
	s := New(Config{FPS: 200})

	var got atomic.Int32
	var first Frame
	var once sync.Once
	if err := s.Start(src, func(f Frame) {
		once.Do(func() {
			first = Frame{Pix: append([]byte(nil), f.Pix...), Width: f.Width, Height: f.Height, Seq: f.Seq}
		})
		got.Add(1)
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "three frames", func() bool { return got.Load() >= 3 })
	s.Stop()

	if first.Width != 8 || first.Height != 4 {
		t.Errorf("expected 8x4 frame, got %dx%d", first.Width, first.Height)
	}
	if len(first.Pix) != 8*4*4 {
		t.Errorf("expected %d bytes, got %d", 8*4*4, len(first.Pix))
	}
	if first.Pix[0] != 200 || first.Pix[3] != 255 {
		t.Errorf("unexpected first pixel %v", first.Pix[:4])
	}
	if first.Seq != 1 {
		t.Errorf("expected first seq 1, got %d", first.Seq)
	}
}

func TestSamplerSkipsUntilFrameReady(t *testing.T) {
	// Two empty ticks (nil, zero-sized) before a usable frame.
	src := &fakeSource{frames: []image.Image{nil, image.NewRGBA(image.Rect(0, 0, 0, 0)), solid(2, 2, color.RGBA{A: 255})}}
	s := New(Config{FPS: 200})

	var got atomic.Int32
	s.Start(src, func(f Frame) { got.Add(1) })
	waitFor(t, "first usable frame", func() bool { return got.Load() >= 1 })
	s.Stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.calls < 3 {
		t.Errorf("expected at least 3 source polls, got %d", src.calls)
	}
}

func TestSamplerStopFromCallback(t *testing.T) {
	src := &fakeSource{frames: []image.Image{solid(4, 4, color.RGBA{A: 255})}}
	s := New(Config{FPS: 500})

	var got atomic.Int32
	done := make(chan struct{})
	s.Start(src, func(f Frame) {
		if got.Add(1) == 1 {
			s.Stop()
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
	time.Sleep(30 * time.Millisecond)

	if n := got.Load(); n != 1 {
		t.Errorf("expected exactly one callback after Stop, got %d", n)
	}
	if s.Running() {
		t.Error("expected sampler to report not running")
	}
}

func TestSamplerCallbacksNeverOverlap(t *testing.T) {
	src := &fakeSource{frames: []image.Image{solid(4, 4, color.RGBA{A: 255})}}
	s := New(Config{FPS: 1000})

	var inFlight, maxInFlight, total atomic.Int32
	s.Start(src, func(f Frame) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(3 * time.Millisecond) // slower than the tick
		inFlight.Add(-1)
		total.Add(1)
	})
	waitFor(t, "several frames", func() bool { return total.Load() >= 5 })
	s.Stop()

	if maxInFlight.Load() != 1 {
		t.Errorf("expected callbacks to be sequential, saw %d concurrent", maxInFlight.Load())
	}
}

func TestSamplerSurvivesPanickingCallback(t *testing.T) {
	src := &fakeSource{frames: []image.Image{solid(4, 4, color.RGBA{A: 255})}}
	s := New(Config{FPS: 200})

	var total atomic.Int32
	s.Start(src, func(f Frame) {
		if total.Add(1) == 1 {
			panic("decoder blew up")
		}
	})
	waitFor(t, "frames after panic", func() bool { return total.Load() >= 3 })
	s.Stop()
}

func TestSamplerDownscales(t *testing.T) {
	src := &fakeSource{frames: []image.Image{solid(400, 200, color.RGBA{G: 255, A: 255})}}
	s := New(Config{FPS: 200, MaxWidth: 100})

	sizes := make(chan [2]int, 1)
	s.Start(src, func(f Frame) {
		select {
		case sizes <- [2]int{f.Width, f.Height}:
		default:
		}
	})
	defer s.Stop()

	select {
	case got := <-sizes:
		if got != [2]int{100, 50} {
			t.Errorf("expected 100x50, got %dx%d", got[0], got[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestStartRestartsLoop(t *testing.T) {
	src := &fakeSource{frames: []image.Image{solid(2, 2, color.RGBA{A: 255})}}
	s := New(Config{FPS: 200})

	var a, b atomic.Int32
	s.Start(src, func(Frame) { a.Add(1) })
	waitFor(t, "first loop", func() bool { return a.Load() >= 1 })

	s.Start(src, func(Frame) { b.Add(1) })
	// A callback already running when Start stopped the old loop may still finish.
	time.Sleep(20 * time.Millisecond)
	before := a.Load()
	waitFor(t, "second loop", func() bool { return b.Load() >= 2 })
	s.Stop()

	if a.Load() != before {
		t.Errorf("first loop kept running after restart: %d -> %d", before, a.Load())
	}
}

func TestStartNilSource(t *testing.T) {
	if err := New(Config{}).Start(nil, func(Frame) {}); err != ErrNoSource {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := New(Config{})
	s.Stop()
	s.Stop()
}
