//go:build !darwin && !(linux && arm64)

package camera

import "fmt"

// captureCommand is a stub for platforms without a supported capture tool.
func captureCommand(c Constraints) (string, []string, error) {
	return "", nil, fmt.Errorf("%w: no capture backend on this platform", ErrDeviceNotFound)
}
