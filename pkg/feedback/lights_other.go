//go:build !linux

package feedback

import "log/slog"

// Lights logs signals on machines without GPIO.
type Lights struct{}

func NewLights(chipName string, successLine, failureLine int) (*Lights, error) {
	slog.Info("[MOCK] GPIO lights unavailable on this platform", "chip", chipName)
	return &Lights{}, nil
}

func (l *Lights) Set(sig Signal) error {
	slog.Debug("[MOCK] Lights", "signal", sig)
	return nil
}

func (l *Lights) Close() error { return nil }
