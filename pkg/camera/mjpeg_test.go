package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"time"
)

func encodeJPEG(t *testing.T, w, h int, c color.Gray) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = c.Y
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// chunkedReader returns at most n bytes per Read, so frames and markers
// straddle chunk boundaries.
type chunkedReader struct {
	r io.Reader
	n int
}

func (c chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}

func TestPumpSplitsFrames(t *testing.T) {
	a := encodeJPEG(t, 32, 16, color.Gray{Y: 10})
	b := encodeJPEG(t, 64, 32, color.Gray{Y: 240})

	stream := append([]byte("garbage before first frame"), a...)
	stream = append(stream, b...)

	p := newMJPEGPump()
	if err := p.run(chunkedReader{r: bytes.NewReader(stream), n: 7}); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	select {
	case <-p.first:
	default:
		t.Fatal("first frame was never signalled")
	}
	if p.seq != 2 {
		t.Errorf("expected 2 frames, got %d", p.seq)
	}
	if !bytes.Equal(p.JPEG(), b) {
		t.Error("latest frame should be the second JPEG")
	}

	img := p.Frame()
	if img == nil {
		t.Fatal("expected decodable frame")
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 32 {
		t.Errorf("expected 64x32, got %v", img.Bounds())
	}
	if p.Frame() != img {
		t.Error("expected the decoded frame to be cached for the same sequence")
	}
}

func TestPumpMultipleFramesInOneChunk(t *testing.T) {
	a := encodeJPEG(t, 8, 8, color.Gray{Y: 1})
	b := encodeJPEG(t, 8, 8, color.Gray{Y: 2})
	c := encodeJPEG(t, 16, 8, color.Gray{Y: 3})

	p := newMJPEGPump()
	p.consume(append(append(append([]byte{}, a...), b...), c[:10]...))
	if p.seq != 2 {
		t.Fatalf("expected 2 frames after first chunk, got %d", p.seq)
	}
	p.consume(c[10:])
	if p.seq != 3 {
		t.Fatalf("expected 3 frames, got %d", p.seq)
	}
	if len(p.pending) != 0 {
		t.Errorf("expected empty remainder, got %d bytes", len(p.pending))
	}
	if !bytes.Equal(p.JPEG(), c) {
		t.Error("latest frame should be the third JPEG")
	}
}

func TestPumpMarkerSplitAcrossChunks(t *testing.T) {
	a := encodeJPEG(t, 8, 8, color.Gray{Y: 1})
	b := encodeJPEG(t, 8, 8, color.Gray{Y: 2})

	p := newMJPEGPump()
	// Split right between the 0xFF and 0xD8 of the second frame's SOI.
	split := len(a) + 1
	stream := append(append([]byte{}, a...), b...)
	p.consume(stream[:split])
	p.consume(stream[split:])

	if p.seq != 2 {
		t.Fatalf("expected 2 frames, got %d", p.seq)
	}
	if !bytes.Equal(p.JPEG(), b) {
		t.Error("latest frame should be the second JPEG")
	}
}

func TestPumpStaleFrame(t *testing.T) {
	p := newMJPEGPump()
	now := time.Now()
	p.now = func() time.Time { return now }
	p.consume(encodeJPEG(t, 8, 8, color.Gray{Y: 50}))

	if p.Frame() == nil {
		t.Fatal("expected fresh frame")
	}

	now = now.Add(6 * time.Second)
	if p.Frame() != nil || p.JPEG() != nil {
		t.Error("expected stale frame to be dropped")
	}
}

func TestPumpEmpty(t *testing.T) {
	p := newMJPEGPump()
	if p.Frame() != nil || p.JPEG() != nil {
		t.Error("expected no frame before any data")
	}
}
