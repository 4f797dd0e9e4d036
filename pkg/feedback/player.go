//go:build linux || darwin

package feedback

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Player plays clips one at a time. Only one may exist per process.
type Player struct {
	mu  sync.Mutex
	ctx *oto.Context
}

func NewPlayer() (*Player, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready
	return &Player{ctx: ctx}, nil
}

// Play blocks until c has finished playing.
func (p *Player) Play(c *Clip) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	player := p.ctx.NewPlayer(bytes.NewReader(c.PCM))
	defer player.Close()
	player.Play()
	for player.IsPlaying() {
		time.Sleep(50 * time.Millisecond)
	}
	return player.Err()
}
