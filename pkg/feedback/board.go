package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wachiwi/gate-scanner/pkg/config"
)

type Speaker interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Board is the device's feedback hardware. Any part may be missing.
type Board struct {
	lights  *Lights
	player  *Player
	clips   map[Signal]*Clip
	speaker Speaker
}

// Open sets up whatever cfg asks for. Hardware that fails to initialise is
// logged and skipped; a scanner without lights still scans.
func Open(cfg config.FeedbackConfig, speaker Speaker) *Board {
	b := &Board{clips: make(map[Signal]*Clip), speaker: speaker}

	if cfg.GPIOChip != "" {
		lights, err := NewLights(cfg.GPIOChip, cfg.SuccessLine, cfg.FailureLine)
		if err != nil {
			slog.Warn("Feedback lights disabled", "chip", cfg.GPIOChip, "error", err)
		} else {
			b.lights = lights
		}
	}

	for sig, path := range map[Signal]string{SignalSuccess: cfg.SuccessClip, SignalFailure: cfg.FailureClip} {
		if path == "" {
			continue
		}
		clip, err := LoadClip(path)
		if err != nil {
			slog.Warn("Feedback clip disabled", "signal", sig, "path", path, "error", err)
			continue
		}
		b.clips[sig] = clip
	}
	if len(b.clips) > 0 || speaker != nil {
		player, err := NewPlayer()
		if err != nil {
			slog.Warn("Feedback audio disabled", "error", err)
		} else {
			b.player = player
		}
	}
	return b
}

func (b *Board) Show(cue Cue) error {
	var errs []error
	if b.lights != nil {
		errs = append(errs, b.lights.Set(cue.Signal))
	}
	if b.player == nil {
		return errors.Join(errs...)
	}
	if clip, ok := b.clips[cue.Signal]; ok {
		errs = append(errs, b.player.Play(clip))
	}
	if cue.Say != "" && b.speaker != nil {
		errs = append(errs, b.say(cue.Say))
	}
	return errors.Join(errs...)
}

func (b *Board) say(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := b.speaker.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to synthesize %q: %w", text, err)
	}
	clip, err := DecodeClip("speech.wav", data)
	if err != nil {
		return err
	}
	return b.player.Play(clip)
}

func (b *Board) Close() error {
	if b.lights != nil {
		return b.lights.Close()
	}
	return nil
}
