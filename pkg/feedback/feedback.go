// Package feedback turns scanner state changes into signals the operator
// can see and hear: a green or red light and a short chime.
package feedback

import (
	"log/slog"
	"sync"

	"github.com/wachiwi/gate-scanner/pkg/scanner"
)

type Signal int

const (
	SignalOff Signal = iota
	SignalScanning
	SignalSuccess
	SignalFailure
)

func (s Signal) String() string {
	switch s {
	case SignalScanning:
		return "scanning"
	case SignalSuccess:
		return "success"
	case SignalFailure:
		return "failure"
	default:
		return "off"
	}
}

// Cue is one thing to show the operator. Say, if set, is spoken after the
// signal's clip.
type Cue struct {
	Signal Signal
	Say    string
}

// CueFor greets the holder of a redeemed ticket by name.
func CueFor(s scanner.State) Cue {
	c := Cue{Signal: SignalFor(s)}
	if c.Signal == SignalSuccess && s.Result.Ticket != nil && s.Result.Ticket.HolderName != "" {
		c.Say = "Welcome " + s.Result.Ticket.HolderName
	}
	return c
}

// SignalFor maps a controller state to the signal shown for it.
func SignalFor(s scanner.State) Signal {
	switch {
	case s.Phase == scanner.PhaseScanning, s.Phase == scanner.PhaseProcessing:
		return SignalScanning
	case s.Succeeded():
		return SignalSuccess
	case s.Failed():
		return SignalFailure
	default:
		return SignalOff
	}
}

// Output renders a cue. Show may block while audio plays.
type Output interface {
	Show(Cue) error
	Close() error
}

const queueSize = 8

// Notifier feeds an Output from a background goroutine. Notify never
// blocks, so it can be subscribed directly to the controller.
type Notifier struct {
	out  Output
	ch   chan Cue
	done chan struct{}

	mu     sync.Mutex
	last   Signal
	closed bool
}

func NewNotifier(out Output) *Notifier {
	n := &Notifier{
		out:  out,
		ch:   make(chan Cue, queueSize),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify queues the cue for s. Repeats of the last signal and cues that
// do not fit in the queue are dropped.
func (n *Notifier) Notify(s scanner.State) {
	cue := CueFor(s)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || cue.Signal == n.last {
		return
	}
	select {
	case n.ch <- cue:
		n.last = cue.Signal
	default:
		slog.Warn("Feedback queue full, dropping signal", "signal", cue.Signal)
	}
}

// Close drains queued signals, then closes the output.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.ch)
	n.mu.Unlock()

	<-n.done
	return n.out.Close()
}

func (n *Notifier) run() {
	defer close(n.done)
	for cue := range n.ch {
		if err := n.out.Show(cue); err != nil {
			slog.Error("Failed to show feedback", "signal", cue.Signal, "error", err)
		}
	}
}
