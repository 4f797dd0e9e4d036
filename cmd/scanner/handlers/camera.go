package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/gate-scanner/pkg/camera"
)

type Sessions interface {
	Current() *camera.Session
}

// CameraHandler serves the live camera as a preview. It only reads frames;
// the controller owns the session.
type CameraHandler struct {
	Sessions Sessions
	// Interval between preview frames. Zero means 100ms.
	Interval time.Duration
}

func (h *CameraHandler) Snapshot(c *gin.Context) {
	frame := h.Sessions.Current().JPEG()
	if frame == nil {
		c.String(http.StatusServiceUnavailable, "Camera not available")
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

// Stream writes multipart MJPEG until the client leaves or the scan ends.
func (h *CameraHandler) Stream(c *gin.Context) {
	if !h.Sessions.Current().Active() {
		c.String(http.StatusServiceUnavailable, "Camera not available")
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	w := c.Writer
	interval := h.Interval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			session := h.Sessions.Current()
			if !session.Active() {
				return
			}
			frame := session.JPEG()
			if frame == nil {
				continue
			}

			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			fmt.Fprintf(w, "\r\n")
			w.Flush()
		}
	}
}
