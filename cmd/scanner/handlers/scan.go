package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/gate-scanner/pkg/history"
	"github.com/wachiwi/gate-scanner/pkg/scanner"
)

// Scanner is the part of the controller the shell drives.
type Scanner interface {
	StartScan(ctx context.Context) scanner.State
	StopScan() scanner.State
	Reset(ctx context.Context) scanner.State
	State() scanner.State
	Subscribe(fn func(scanner.State)) (unsubscribe func())
}

type History interface {
	Entries() []history.Entry
}

type ScanHandler struct {
	Scanner Scanner
	History History
	// AcquireTimeout bounds camera startup for start and reset. Zero means 10s.
	AcquireTimeout time.Duration
}

func (h *ScanHandler) Start(c *gin.Context) {
	ctx, cancel := h.acquireContext(c)
	defer cancel()
	c.JSON(http.StatusOK, h.Scanner.StartScan(ctx))
}

func (h *ScanHandler) Stop(c *gin.Context) {
	c.JSON(http.StatusOK, h.Scanner.StopScan())
}

func (h *ScanHandler) Reset(c *gin.Context) {
	ctx, cancel := h.acquireContext(c)
	defer cancel()
	c.JSON(http.StatusOK, h.Scanner.Reset(ctx))
}

func (h *ScanHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.Scanner.State())
}

func (h *ScanHandler) HistoryList(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusOK, []history.Entry{})
		return
	}
	c.JSON(http.StatusOK, h.History.Entries())
}

// Events streams every state as a server-sent "state" event, starting
// with the current one. Slow clients miss intermediate states.
func (h *ScanHandler) Events(c *gin.Context) {
	updates := make(chan scanner.State, 16)
	unsubscribe := h.Scanner.Subscribe(func(s scanner.State) {
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", h.Scanner.State())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s := <-updates:
			c.SSEvent("state", s)
			return true
		}
	})
	slog.Debug("Scan event stream closed", "remote", c.ClientIP())
}

// acquireContext outlives a client that disconnects mid-request so a
// half-opened camera is handled by the controller, not abandoned.
func (h *ScanHandler) acquireContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := h.AcquireTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), timeout)
}
