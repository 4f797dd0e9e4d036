// Package history keeps the recent scan results shown to the operator.
package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wachiwi/gate-scanner/pkg/scanner"
)

type Entry struct {
	AttemptID  string            `json:"attemptId,omitempty"`
	Code       string            `json:"code,omitempty"`
	Success    bool              `json:"success"`
	Kind       scanner.ErrorKind `json:"errorKind,omitempty"`
	Message    string            `json:"message,omitempty"`
	HolderName string            `json:"holderName,omitempty"`
	EventName  string            `json:"eventName,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Log holds entries newer than the retention period, oldest first.
type Log struct {
	mu        sync.Mutex
	path      string
	retention time.Duration
	entries   []Entry
	dirty     bool
	now       func() time.Time
}

// New creates a log. If path is set, entries saved there by a previous
// run are loaded; a missing or corrupted file starts an empty log.
func New(path string, retention time.Duration) *Log {
	l := &Log{path: path, retention: retention, now: time.Now}
	if path == "" {
		return l
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read scan history", "path", path, "error", err)
		}
		return l
	}
	if len(data) == 0 {
		return l
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		slog.Warn("Ignoring corrupted scan history", "path", path, "error", err)
		l.entries = nil
	}
	l.pruneLocked()
	return l
}

// Record adds an entry for s if it is a result. It only touches memory so
// it can be subscribed to the controller directly.
func (l *Log) Record(s scanner.State) {
	if s.Phase != scanner.PhaseResult || s.Result == nil {
		return
	}
	r := s.Result
	e := Entry{
		AttemptID: r.AttemptID,
		Code:      r.Code,
		Success:   r.Success,
		Kind:      r.Kind,
		Message:   r.Message,
		Timestamp: s.Since,
	}
	if r.Ticket != nil {
		e.HolderName = r.Ticket.HolderName
		e.EventName = r.Ticket.EventName
	}
	l.Add(e)
}

func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	l.entries = append(l.entries, e)
	l.dirty = true
	l.pruneLocked()
}

// Entries returns a copy of the retained entries.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Flush writes the log to its file if it changed since the last flush.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" || !l.dirty {
		return nil
	}
	l.pruneLocked()

	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

func (l *Log) pruneLocked() {
	if l.retention <= 0 {
		return
	}
	cutoff := l.now().Add(-l.retention)
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(l.entries) {
		l.dirty = true
	}
	l.entries = kept
}
