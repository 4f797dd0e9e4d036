//go:build linux && arm64

package camera

import (
	"fmt"
	"os/exec"
)

// captureCommand builds an rpicam-vid (or legacy libcamera-vid) invocation
// that streams MJPEG to stdout. The tools' camera index 0 is the module on
// the CSI port; a second module, if present, is treated as front facing.
func captureCommand(c Constraints) (string, []string, error) {
	cmdName := "rpicam-vid"
	if _, err := exec.LookPath(cmdName); err != nil {
		cmdName = "libcamera-vid"
		if _, err := exec.LookPath(cmdName); err != nil {
			return "", nil, fmt.Errorf("%w: neither rpicam-vid nor libcamera-vid found", ErrDeviceNotFound)
		}
	}

	index := "0"
	if c.Facing == FacingFront {
		index = "1"
	}

	return cmdName, []string{
		"--camera", index,
		"--width", fmt.Sprintf("%d", c.Width),
		"--height", fmt.Sprintf("%d", c.Height),
		"--framerate", fmt.Sprintf("%d", c.FPS),
		"--timeout", "0", // Run until interrupted
		"--nopreview",
		"--codec", "mjpeg",
		"--output", "-",
		"--awb", "auto",
		"--metering", "average",
		// Continuous autofocus for the Camera Module 3; ignored by fixed-focus modules.
		"--autofocus-mode", "continuous",
	}, nil
}
