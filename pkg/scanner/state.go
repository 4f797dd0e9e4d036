package scanner

import (
	"fmt"
	"time"

	"github.com/wachiwi/gate-scanner/pkg/redeem"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseProcessing
	PhaseResult
)

var phaseNames = map[Phase]string{
	PhaseIdle:       "idle",
	PhaseScanning:   "scanning",
	PhaseProcessing: "processing",
	PhaseResult:     "result",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ErrorKind classifies a failed result for the operator.
type ErrorKind string

const (
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindDeviceNotFound     ErrorKind = "device_not_found"
	KindDeviceBusy         ErrorKind = "device_busy"
	KindCameraError        ErrorKind = "camera_error"
	KindInvalidCode        ErrorKind = "invalid_code"
	KindRedemptionRejected ErrorKind = "redemption_rejected"
	KindNetworkError       ErrorKind = "network_error"
)

// IsCamera reports whether the failure happened while acquiring the camera.
func (k ErrorKind) IsCamera() bool {
	switch k {
	case KindPermissionDenied, KindDeviceNotFound, KindDeviceBusy, KindCameraError:
		return true
	}
	return false
}

// Result is the outcome shown in the result panel. Exactly one of Ticket
// (on success) or Kind (on failure) is set.
type Result struct {
	Success   bool           `json:"success"`
	Ticket    *redeem.Ticket `json:"ticket,omitempty"`
	Kind      ErrorKind      `json:"errorKind,omitempty"`
	Message   string         `json:"message,omitempty"`
	Code      string         `json:"code,omitempty"`
	AttemptID string         `json:"attemptId,omitempty"`
}

// State is the controller's externally visible state. Result is non-nil
// only in PhaseResult. Code is the detected code while processing and
// after a redemption.
type State struct {
	Phase  Phase     `json:"phase"`
	Code   string    `json:"code,omitempty"`
	Result *Result   `json:"result,omitempty"`
	Since  time.Time `json:"since"`
}

func (s State) Succeeded() bool {
	return s.Phase == PhaseResult && s.Result != nil && s.Result.Success
}

func (s State) Failed() bool {
	return s.Phase == PhaseResult && s.Result != nil && !s.Result.Success
}

type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSuccess AttemptStatus = "success"
	AttemptFailure AttemptStatus = "failure"
)

// Attempt is one redemption call. Its ID doubles as the idempotency key.
type Attempt struct {
	ID        string
	Code      string
	Status    AttemptStatus
	Kind      ErrorKind
	Ticket    *redeem.Ticket
	StartedAt time.Time
}
