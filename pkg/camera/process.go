package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const defaultStartupTimeout = 5 * time.Second

// ProcessDevice captures by running the platform's camera tool in MJPEG
// mode and reading its stdout:
//   - rpicam-vid / libcamera-vid on Raspberry Pi (linux/arm64)
//   - ffmpeg with AVFoundation on macOS
//
// Other platforms report ErrDeviceNotFound.
type ProcessDevice struct {
	// StartupTimeout bounds how long Open waits for the first frame before
	// handing out the stream anyway. Zero means 5s.
	StartupTimeout time.Duration
}

func (d *ProcessDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	name, args, err := captureCommand(c)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, classifyStartError(err))
	}

	s := &processStream{
		cmd:    cmd,
		pump:   newMJPEGPump(),
		stderr: stderr,
		exited: make(chan struct{}),
	}
	slog.Info("Started camera streaming process", "command", name, "pid", cmd.Process.Pid, "width", c.Width, "height", c.Height, "fps", c.FPS)

	go func() {
		if err := s.pump.run(stdout); err != nil {
			slog.Debug("Camera stream read ended", "error", err)
		}
	}()
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	timeout := d.StartupTimeout
	if timeout == 0 {
		timeout = defaultStartupTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.pump.first:
		return s, nil
	case <-s.exited:
		msg := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("%s exited before the first frame: %w (%v: %s)", name, classifyStderr(msg), s.waitErr, msg)
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case <-timer.C:
		// Slow sensors still count as open; the sampler skips empty ticks.
		slog.Warn("No camera frame within startup timeout", "command", name, "timeout", timeout)
		return s, nil
	}
}

type processStream struct {
	cmd     *exec.Cmd
	pump    *mjpegPump
	stderr  *syncBuffer
	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

func (s *processStream) Frame() image.Image {
	select {
	case <-s.exited:
		return nil
	default:
	}
	return s.pump.Frame()
}

// JPEG exposes the raw latest frame for the preview stream.
func (s *processStream) JPEG() []byte {
	return s.pump.JPEG()
}

// Close interrupts the capture process and waits for it to exit, killing
// it if it does not stop within two seconds.
func (s *processStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		select {
		case <-s.exited:
			return
		default:
		}
		if sigErr := s.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			s.cmd.Process.Kill()
		}
		select {
		case <-s.exited:
		case <-time.After(2 * time.Second):
			err = s.cmd.Process.Kill()
			<-s.exited
		}
	})
	return err
}

// classifyStderr maps the tools' error output to a failure class.
func classifyStderr(msg string) error {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "permission denied"),
		strings.Contains(m, "not authorized"),
		strings.Contains(m, "not permitted"):
		return ErrPermissionDenied
	case strings.Contains(m, "device or resource busy"),
		strings.Contains(m, "in use"),
		strings.Contains(m, "failed to acquire camera"):
		return ErrDeviceBusy
	case strings.Contains(m, "no cameras available"),
		strings.Contains(m, "no such file or directory"),
		strings.Contains(m, "no such device"),
		strings.Contains(m, "input/output error"):
		return ErrDeviceNotFound
	default:
		return ErrUnknown
	}
}

func classifyStartError(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return err
	}
}

// syncBuffer is a bytes.Buffer safe for the writer goroutine exec starts
// and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
