package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// PatternDevice produces synthetic frames for development and demos when
// no camera is attached. If Code is set, every frame carries a QR code with
// that payload in its center so the whole scan path can be exercised.
type PatternDevice struct {
	Code string

	mu   sync.Mutex
	open bool
}

func (d *PatternDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, fmt.Errorf("%w: pattern device already open", ErrDeviceBusy)
	}

	s := &patternStream{device: d, width: c.Width, height: c.Height}
	if d.Code != "" {
		size := min(c.Width, c.Height) * 3 / 5
		matrix, err := qrcode.NewQRCodeWriter().Encode(d.Code, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
		if err != nil {
			return nil, fmt.Errorf("encode pattern code: %w", err)
		}
		s.code = matrix
	}
	d.open = true
	return s, nil
}

type patternStream struct {
	device *PatternDevice
	width  int
	height int
	code   *gozxing.BitMatrix
	once   sync.Once
}

// Frame renders a gradient whose red channel drifts with the clock, with
// the QR code stamped over it.
func (s *patternStream) Frame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	shade := byte(time.Now().Unix() % 256)

	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / s.width)
			img.Pix[offset+2] = byte((y * 255) / s.height)
			img.Pix[offset+3] = 255
		}
	}

	if s.code != nil {
		stampMatrix(img, s.code)
	}
	return img
}

func (s *patternStream) Close() error {
	s.once.Do(func() {
		s.device.mu.Lock()
		s.device.open = false
		s.device.mu.Unlock()
	})
	return nil
}

func stampMatrix(img *image.RGBA, m *gozxing.BitMatrix) {
	w, h := m.GetWidth(), m.GetHeight()
	ox := (img.Rect.Dx() - w) / 2
	oy := (img.Rect.Dy() - h) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if m.Get(x, y) {
				c = color.RGBA{A: 255}
			}
			img.SetRGBA(ox+x, oy+y, c)
		}
	}
}
