package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// ImageDevice serves one still image as a never-changing stream. It is used
// to replay a captured frame against the scanner without a camera.
type ImageDevice struct {
	Path string
}

func (d *ImageDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return stillStream{img: img}, nil
}

type stillStream struct {
	img image.Image
}

func (s stillStream) Frame() image.Image { return s.img }

func (s stillStream) Close() error { return nil }
