package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/gate-scanner/pkg/supervisor"
)

type DeviceStatus interface {
	State(ctx context.Context) (*supervisor.DeviceState, error)
}

// HealthHandler reports liveness plus, on balena devices, the supervisor's
// view of the device. A failing supervisor does not fail the check.
type HealthHandler struct {
	Scanner Scanner
	Device  DeviceStatus
}

func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"phase":  h.Scanner.State().Phase,
	}
	if h.Device != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if state, err := h.Device.State(ctx); err != nil {
			body["deviceError"] = err.Error()
		} else {
			body["device"] = state
		}
	}
	c.JSON(http.StatusOK, body)
}
