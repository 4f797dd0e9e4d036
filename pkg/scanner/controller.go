// Package scanner drives a scan from camera acquisition to a single
// redemption call and exposes the result as a state machine:
//
//	Idle ──StartScan──▶ Scanning ──code──▶ Processing ──▶ Result
//	  ▲                    │                                 │
//	  └──────StopScan──────┘◀────────────Reset───────────────┘
//
// A camera failure goes straight from Idle (or Result) to Result.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wachiwi/gate-scanner/pkg/camera"
	"github.com/wachiwi/gate-scanner/pkg/redeem"
	"github.com/wachiwi/gate-scanner/pkg/sampler"
)

const (
	msgPermissionDenied = "Camera access was denied. Allow camera access for the scanner and try again."
	msgDeviceNotFound   = "No camera was found on this device."
	msgDeviceBusy       = "The camera is being used by another application. Close it and try again."
	msgCameraError      = "The camera could not be started."
	msgInvalidCode      = "The scanned code is empty. Scan the ticket again."
	msgNetworkError     = "Could not reach the ticket service. Check the connection and scan again."
)

type Cameras interface {
	Acquire(ctx context.Context, c camera.Constraints) (*camera.Session, error)
	Release(s *camera.Session)
}

type FrameSampler interface {
	Start(src sampler.Source, onFrame sampler.FrameFunc) error
	Stop()
}

type Decoder interface {
	Decode(pixels []byte, width, height int) (string, bool)
}

type Redeemer interface {
	Redeem(ctx context.Context, code, idempotencyKey string) (*redeem.Ticket, error)
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Cameras  Cameras
	Sampler  FrameSampler
	Decoder  Decoder
	Redeemer Redeemer
}

type listener struct {
	id int
	fn func(State)
}

// Controller is safe for concurrent use. All transitions happen under one
// mutex; listeners are notified in transition order.
type Controller struct {
	deps        Deps
	constraints camera.Constraints
	now         func() time.Time

	// startMu orders acquisitions: a camera opened by one start is
	// committed or released before the next start acquires.
	startMu sync.Mutex

	mu         sync.Mutex
	state      State
	session    *camera.Session
	attempt    *Attempt
	scanGen    uint64 // bumped whenever the current scan is abandoned
	attemptGen uint64 // bumped whenever a pending result must be discarded
	closed     bool
	listeners  []listener
	nextID     int

	inflight sync.WaitGroup

	redemptions    metric.Int64Counter
	redeemDuration metric.Float64Histogram
	cameraFailures metric.Int64Counter
}

func New(deps Deps, constraints camera.Constraints) *Controller {
	c := &Controller{
		deps:        deps,
		constraints: constraints,
		now:         time.Now,
	}
	c.state = State{Phase: PhaseIdle, Since: c.now()}

	meter := otel.Meter("github.com/wachiwi/gate-scanner/pkg/scanner")
	var err error
	c.redemptions, err = meter.Int64Counter("scanner.redemptions", metric.WithDescription("Finished redemption attempts by outcome"))
	if err != nil {
		slog.Error("Failed to create redemptions counter", "error", err)
	}
	c.redeemDuration, err = meter.Float64Histogram("scanner.redeem.duration", metric.WithUnit("s"), metric.WithDescription("Redemption call latency"))
	if err != nil {
		slog.Error("Failed to create redeem duration histogram", "error", err)
	}
	c.cameraFailures, err = meter.Int64Counter("scanner.camera.failures", metric.WithDescription("Failed camera acquisitions by kind"))
	if err != nil {
		slog.Error("Failed to create camera failures counter", "error", err)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive the state after every transition. fn
// runs with the controller locked: it must return quickly and must not
// call back into the Controller.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// StartScan acquires the camera and starts sampling. Any scan already in
// progress is torn down first. It is ignored while a redemption is pending.
// Concurrent starts run one after the other.
func (c *Controller) StartScan(ctx context.Context) State {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.start(ctx)
}

// start runs with startMu held.
func (c *Controller) start(ctx context.Context) State {
	c.mu.Lock()
	if c.closed || c.state.Phase == PhaseProcessing {
		s := c.state
		c.mu.Unlock()
		return s
	}
	c.scanGen++
	gen := c.scanGen
	c.teardownLocked()
	c.mu.Unlock()

	session, err := c.deps.Cameras.Acquire(ctx, c.constraints)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.scanGen {
		// Stopped or restarted while the camera was opening.
		c.deps.Cameras.Release(session)
		return c.state
	}
	if err != nil {
		kind := cameraKind(err)
		slog.Warn("Camera acquisition failed", "kind", kind, "error", err)
		c.add(c.cameraFailures, attribute.String("kind", string(kind)))
		c.transition(State{Phase: PhaseResult, Result: &Result{Kind: kind, Message: cameraMessage(kind)}})
		return c.state
	}

	c.session = session
	c.transition(State{Phase: PhaseScanning})
	if err := c.deps.Sampler.Start(session, c.frameHandler(gen)); err != nil {
		slog.Error("Failed to start frame sampler", "error", err)
		c.scanGen++
		c.teardownLocked()
		c.transition(State{Phase: PhaseResult, Result: &Result{Kind: KindCameraError, Message: msgCameraError}})
	}
	return c.state
}

// StopScan cancels a scan in progress and releases the camera before it
// returns. It also abandons a camera acquisition that has not finished.
func (c *Controller) StopScan() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scanGen++
	if c.closed || c.state.Phase != PhaseScanning {
		return c.state
	}
	c.teardownLocked()
	c.transition(State{Phase: PhaseIdle})
	slog.Info("Scan stopped")
	return c.state
}

// Reset starts a fresh scan after a result. It never resubmits the
// previous code.
func (c *Controller) Reset(ctx context.Context) State {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if s := c.State(); s.Phase != PhaseResult {
		return s
	}
	return c.start(ctx)
}

// StopIfIdle stops a scan that has been running for longer than limit
// without detecting a code. It reports whether it stopped one.
func (c *Controller) StopIfIdle(limit time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state.Phase != PhaseScanning || c.now().Sub(c.state.Since) < limit {
		return false
	}
	c.scanGen++
	c.teardownLocked()
	c.transition(State{Phase: PhaseIdle})
	return true
}

// Close tears the controller down: sampling stops, the camera is released
// and a pending redemption's result will be discarded. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.scanGen++
	c.attemptGen++
	c.teardownLocked()
	c.listeners = nil
}

// Wait blocks until redemption calls started so far have returned.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) frameHandler(gen uint64) sampler.FrameFunc {
	return func(f sampler.Frame) {
		text, ok := c.deps.Decoder.Decode(f.Pix, f.Width, f.Height)
		if !ok {
			return
		}
		c.codeDetected(gen, text)
	}
}

func (c *Controller) codeDetected(gen uint64, raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.scanGen || c.state.Phase != PhaseScanning {
		return
	}
	// Nothing else from this scan may reach us.
	c.scanGen++
	c.teardownLocked()

	code := strings.TrimSpace(raw)
	if code == "" {
		slog.Info("Rejected empty code")
		c.transition(State{Phase: PhaseResult, Result: &Result{Kind: KindInvalidCode, Message: msgInvalidCode}})
		return
	}

	attempt := &Attempt{
		ID:        uuid.NewString(),
		Code:      code,
		Status:    AttemptPending,
		StartedAt: c.now(),
	}
	c.attempt = attempt
	c.attemptGen++
	slog.Info("Code detected, redeeming", "attempt", attempt.ID, "code", code)
	c.transition(State{Phase: PhaseProcessing, Code: code})

	c.inflight.Add(1)
	go c.redeem(c.attemptGen, attempt)
}

func (c *Controller) redeem(gen uint64, attempt *Attempt) {
	defer c.inflight.Done()

	ticket, err := c.callRedeemer(attempt)
	elapsed := c.now().Sub(attempt.StartedAt)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.attemptGen || c.state.Phase != PhaseProcessing {
		slog.Info("Discarding redemption result", "attempt", attempt.ID, "error", err)
		return
	}

	result := &Result{Code: attempt.Code, AttemptID: attempt.ID}
	if err != nil {
		kind, msg := redemptionFailure(err)
		attempt.Status = AttemptFailure
		attempt.Kind = kind
		result.Kind = kind
		result.Message = msg
		slog.Warn("Redemption failed", "attempt", attempt.ID, "kind", kind, "error", err, "duration", elapsed)
	} else {
		attempt.Status = AttemptSuccess
		attempt.Ticket = ticket
		result.Success = true
		result.Ticket = ticket
		slog.Info("Ticket redeemed", "attempt", attempt.ID, "ticket", ticket.ID, "duration", elapsed)
	}

	outcome := string(AttemptSuccess)
	if !result.Success {
		outcome = string(result.Kind)
	}
	c.add(c.redemptions, attribute.String("outcome", outcome))
	if c.redeemDuration != nil {
		c.redeemDuration.Record(context.Background(), elapsed.Seconds())
	}

	c.transition(State{Phase: PhaseResult, Code: attempt.Code, Result: result})
}

// callRedeemer makes the single redemption call. A panic or a nil ticket
// is reported as an error so nothing escapes the controller.
func (c *Controller) callRedeemer(attempt *Attempt) (ticket *redeem.Ticket, err error) {
	defer func() {
		if r := recover(); r != nil {
			ticket, err = nil, fmt.Errorf("redeemer panicked: %v", r)
		}
	}()

	ticket, err = c.deps.Redeemer.Redeem(context.Background(), attempt.Code, attempt.ID)
	if err == nil && ticket == nil {
		err = errors.New("redeemer returned no ticket")
	}
	return ticket, err
}

// teardownLocked stops sampling and releases the camera. Safe to call from
// inside a frame callback.
func (c *Controller) teardownLocked() {
	c.deps.Sampler.Stop()
	if c.session != nil {
		c.deps.Cameras.Release(c.session)
		c.session = nil
	}
}

func (c *Controller) transition(s State) {
	s.Since = c.now()
	from := c.state.Phase
	c.state = s
	slog.Debug("Scanner transition", "from", from, "to", s.Phase)
	for _, l := range c.listeners {
		l.fn(s)
	}
}

func (c *Controller) add(counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func cameraKind(err error) ErrorKind {
	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, camera.ErrDeviceNotFound):
		return KindDeviceNotFound
	case errors.Is(err, camera.ErrDeviceBusy):
		return KindDeviceBusy
	default:
		return KindCameraError
	}
}

func cameraMessage(k ErrorKind) string {
	switch k {
	case KindPermissionDenied:
		return msgPermissionDenied
	case KindDeviceNotFound:
		return msgDeviceNotFound
	case KindDeviceBusy:
		return msgDeviceBusy
	default:
		return msgCameraError
	}
}

// structuredError is a rejection that carries a server response, such as
// *redeem.APIError.
type structuredError interface {
	error
	StatusCode() int
	UserMessage() string
}

// redemptionFailure classifies err. Only a rejection that carries a message
// is a rejection; a bare status is treated like a transport failure.
func redemptionFailure(err error) (ErrorKind, string) {
	var se structuredError
	if errors.As(err, &se) {
		if msg := strings.TrimSpace(se.UserMessage()); msg != "" {
			return KindRedemptionRejected, msg
		}
	}
	return KindNetworkError, msgNetworkError
}
