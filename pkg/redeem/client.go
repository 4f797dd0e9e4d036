// Package redeem is the HTTP client for the ticket store's redemption
// endpoint.
package redeem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const redeemPath = "/api/tickets/redeem"

var (
	// ErrEmptyCode is returned before any request is made for a blank code.
	ErrEmptyCode = errors.New("redeem: empty ticket code")
	// ErrUnexpectedStatus wraps a non-2xx reply that carried no error
	// message, such as a proxy's HTML error page.
	ErrUnexpectedStatus = errors.New("redeem: unexpected status")
)

type Ticket struct {
	ID         string     `json:"id"`
	EventID    string     `json:"eventId,omitempty"`
	EventName  string     `json:"eventName,omitempty"`
	HolderName string     `json:"holderName,omitempty"`
	IsRedeemed bool       `json:"isRedeemed"`
	RedeemedAt *time.Time `json:"redeemedAt,omitempty"`
}

type RedeemRequest struct {
	TicketCode string `json:"ticketCode"`
}

// APIError is a structured rejection from the ticket store, e.g. a ticket
// that was already redeemed (409) or does not exist (404). Message is never
// empty for errors returned by Client.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ticket store returned status %d: %s", e.Status, e.Message)
}

func (e *APIError) StatusCode() int { return e.Status }

// UserMessage is the server-provided message, suitable for the operator.
func (e *APIError) UserMessage() string { return e.Message }

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	tracer trace.Tracer
}

// NewClient returns a client for the store at baseURL. A zero timeout
// leaves requests bounded only by their context.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("github.com/wachiwi/gate-scanner/pkg/redeem"),
	}
}

// Redeem marks the ticket identified by code as used. It makes exactly one
// request; idempotencyKey (generated if empty) lets the store recognise a
// duplicate submission of the same attempt.
func (c *Client) Redeem(ctx context.Context, code, idempotencyKey string) (*Ticket, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	tracer := c.tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/wachiwi/gate-scanner/pkg/redeem")
	}
	ctx, span := tracer.Start(ctx, "redeem.Redeem", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("redeem.idempotency_key", idempotencyKey))

	ticket, err := c.do(ctx, code, idempotencyKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return ticket, nil
}

func (c *Client) do(ctx context.Context, code, idempotencyKey string) (*Ticket, error) {
	requestBody, err := json.Marshal(RedeemRequest{TicketCode: code})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+redeemPath, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg := errorMessage(bodyBytes); msg != "" {
			return nil, &APIError{Status: resp.StatusCode, Message: msg}
		}
		return nil, fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var ticket Ticket
	if err := json.Unmarshal(bodyBytes, &ticket); err != nil {
		return nil, fmt.Errorf("error unmarshalling ticket: %w", err)
	}
	return &ticket, nil
}

// errorMessage extracts the store's message from a JSON error body. It
// returns "" for anything else.
func errorMessage(body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) != nil {
		return ""
	}
	if msg := strings.TrimSpace(eb.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(eb.Error)
}
