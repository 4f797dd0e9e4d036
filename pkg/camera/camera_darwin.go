//go:build darwin

package camera

import (
	"fmt"
	"os/exec"
)

// captureCommand streams the built-in webcam through ffmpeg's AVFoundation
// input. Mac cameras only accept their native frame rates, so the FPS hint
// is clamped to 30.
func captureCommand(c Constraints) (string, []string, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", nil, fmt.Errorf("%w: ffmpeg not found", ErrDeviceNotFound)
	}

	fps := c.FPS
	if fps <= 0 || fps > 30 {
		fps = 30
	}

	return "ffmpeg", []string{
		"-f", "avfoundation",
		"-framerate", fmt.Sprintf("%d", fps),
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-i", "0",
		"-f", "mjpeg",
		"-q:v", "5",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	}, nil
}
