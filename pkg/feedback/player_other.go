//go:build !linux && !darwin

package feedback

import "errors"

type Player struct{}

func NewPlayer() (*Player, error) {
	return nil, errors.New("audio output is not supported on this platform")
}

func (p *Player) Play(c *Clip) error { return nil }
