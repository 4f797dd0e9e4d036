//go:build linux

package feedback

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Lights drives a success and a failure LED. While scanning both are on.
type Lights struct {
	chip    *gpiocdev.Chip
	success *gpiocdev.Line
	failure *gpiocdev.Line
}

func NewLights(chipName string, successLine, failureLine int) (*Lights, error) {
	c, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("gate-scanner"))
	if err != nil {
		return nil, fmt.Errorf("failed to open chip: %w", err)
	}
	success, err := c.RequestLine(successLine, gpiocdev.AsOutput(0))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to request success line %d: %w", successLine, err)
	}
	failure, err := c.RequestLine(failureLine, gpiocdev.AsOutput(0))
	if err != nil {
		success.Close()
		c.Close()
		return nil, fmt.Errorf("failed to request failure line %d: %w", failureLine, err)
	}
	return &Lights{chip: c, success: success, failure: failure}, nil
}

func (l *Lights) Set(sig Signal) error {
	var ok, bad int
	switch sig {
	case SignalScanning:
		ok, bad = 1, 1
	case SignalSuccess:
		ok = 1
	case SignalFailure:
		bad = 1
	}
	return errors.Join(l.success.SetValue(ok), l.failure.SetValue(bad))
}

// Close turns both lights off and releases the lines.
func (l *Lights) Close() error {
	off := l.Set(SignalOff)
	return errors.Join(off, l.success.Close(), l.failure.Close(), l.chip.Close())
}
