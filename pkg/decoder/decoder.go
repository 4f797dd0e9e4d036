// Package decoder extracts QR code payloads from raw frames.
package decoder

import (
	"image"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QR decodes QR codes with gozxing. The zero value is ready to use and is
// safe for concurrent use; nothing is shared between calls.
type QR struct {
	// Fast disables the TRY_HARDER hint. Faster, but misses small or
	// skewed codes.
	Fast bool
}

// Decode looks for a QR code in a tightly packed RGBA buffer of the given
// dimensions. The second result is false when no code was found, when the
// buffer does not match the dimensions, or when the decoder failed.
func (q QR) Decode(pixels []byte, width, height int) (string, bool) {
	if width <= 0 || height <= 0 || len(pixels) < width*height*4 {
		return "", false
	}
	img := &image.RGBA{
		Pix:    pixels,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	return q.DecodeImage(img)
}

// DecodeImage is Decode for an arbitrary image.
func (q QR) DecodeImage(img image.Image) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("QR decoder panicked", "panic", r)
			text, ok = "", false
		}
	}()

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}

	var hints map[gozxing.DecodeHintType]interface{}
	if !q.Fast {
		hints = map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		}
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		// NotFound, checksum and format errors all mean "no code this frame".
		return "", false
	}
	return result.GetText(), true
}
