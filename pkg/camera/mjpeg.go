package camera

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	readChunkSize  = 4096
	maxFrameBuffer = 10 * 1024 * 1024
	staleAfter     = 5 * time.Second
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// mjpegPump splits a concatenated MJPEG byte stream into JPEG frames and
// keeps the most recent one. Frames are decoded lazily, once per sequence.
type mjpegPump struct {
	mu        sync.Mutex
	latest    []byte
	seq       uint64
	updatedAt time.Time

	decodedSeq uint64
	decoded    image.Image

	pending []byte
	scanned int

	// first is closed when the first complete frame arrives.
	first     chan struct{}
	firstOnce sync.Once
	now       func() time.Time
}

func newMJPEGPump() *mjpegPump {
	return &mjpegPump{
		first: make(chan struct{}),
		now:   time.Now,
	}
}

// run reads r until it fails. It returns the read error (io.EOF included).
func (p *mjpegPump) run(r io.Reader) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.consume(buf[:n])
		}
		if err != nil {
			return err
		}
	}
}

// consume appends chunk to the pending bytes and publishes every complete
// frame found. Only the run goroutine calls it.
func (p *mjpegPump) consume(chunk []byte) {
	p.pending = append(p.pending, chunk...)

	for {
		start := bytes.Index(p.pending, soi)
		if start == -1 {
			// A trailing 0xFF may be the first half of the next SOI.
			if n := len(p.pending); n > 0 && p.pending[n-1] == 0xFF {
				p.pending = append(p.pending[:0], 0xFF)
			} else {
				p.pending = p.pending[:0]
			}
			p.scanned = 0
			return
		}
		if start > 0 {
			p.pending = append(p.pending[:0], p.pending[start:]...)
			p.scanned = 0
		}

		// Resume the EOI search one byte early in case the marker was split.
		from := max(2, p.scanned-1)
		end := bytes.Index(p.pending[from:], eoi)
		if end == -1 {
			p.scanned = len(p.pending)
			break
		}
		end += from
		p.publish(p.pending[:end+2])

		p.pending = append(p.pending[:0], p.pending[end+2:]...)
		p.scanned = 0
	}

	if len(p.pending) > maxFrameBuffer {
		slog.Warn("Frame buffer overflow, resetting")
		p.pending = nil
		p.scanned = 0
	}
}

func (p *mjpegPump) publish(frame []byte) {
	p.mu.Lock()
	p.latest = append(p.latest[:0:0], frame...)
	p.seq++
	p.updatedAt = p.now()
	p.mu.Unlock()

	p.firstOnce.Do(func() { close(p.first) })
}

// JPEG returns a copy of the latest complete frame, or nil if there is none
// or it is stale (the capture process stopped producing).
func (p *mjpegPump) JPEG() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.latest) == 0 || p.now().Sub(p.updatedAt) > staleAfter {
		return nil
	}
	dst := make([]byte, len(p.latest))
	copy(dst, p.latest)
	return dst
}

// Frame decodes the latest frame. A frame that fails to decode is reported
// as no frame.
func (p *mjpegPump) Frame() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.latest) == 0 || p.now().Sub(p.updatedAt) > staleAfter {
		return nil
	}
	if p.decodedSeq == p.seq && p.decoded != nil {
		return p.decoded
	}
	img, err := jpeg.Decode(bytes.NewReader(p.latest))
	if err != nil {
		slog.Debug("Dropping undecodable frame", "seq", p.seq, "error", err)
		return nil
	}
	p.decoded = img
	p.decodedSeq = p.seq
	return img
}
