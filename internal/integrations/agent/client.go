package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

const (
	defaultTimeout = 120 * time.Second
	probeTimeout   = 5 * time.Second
)

// Replies returned to the messaging channel in place of an agent answer.
const (
	ReplyNoResponse      = "No response from agent"
	ReplyTimeout         = "Sorry, our service is taking longer than expected. Please try again in a few moments."
	ReplyOffline         = "Sorry, our AI assistant is currently offline. We're working to restore the service. Please check back soon."
	ReplyUnavailable     = "Sorry, our AI assistant is currently unavailable. We're working to restore the service. Please try again later."
	ReplyBadRequest      = "Sorry, there was an issue with your request format. Please try again."
	ReplyServerError     = "Sorry, our AI assistant is experiencing technical difficulties. Please try again in a few minutes."
	ReplyRejected        = "Sorry, we're unable to process your request right now. Please try again later."
	ReplyInvalidResponse = "Sorry, we received an invalid response from our AI assistant. Please try again."
	ReplyUnknown         = "Sorry, something went wrong. Please try again later."
)

// Probe results.
const (
	StatusHealthy       = "healthy"
	StatusUnreachable   = "unreachable"
	StatusNotConfigured = "not configured"
)

// chatRequest is the request body accepted by the agent backend.
type chatRequest struct {
	Message string `json:"message"`
}

type FailureKind string

const (
	FailureTimeout     FailureKind = "AGENT_TIMEOUT"
	FailureUnreachable FailureKind = "AGENT_UNREACHABLE"
	FailureHTTPStatus  FailureKind = "AGENT_HTTP_ERROR"
	FailureMalformed   FailureKind = "AGENT_MALFORMED_RESPONSE"
	FailureUnknown     FailureKind = "AGENT_UNKNOWN_ERROR"
)

// Error is a classified failure talking to the agent backend.
type Error struct {
	Kind       FailureKind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Kind == FailureHTTPStatus {
		return fmt.Sprintf("agent: %s: unexpected status %d: %s", e.Kind, e.StatusCode, e.Body)
	}
	if e.Err == nil {
		return fmt.Sprintf("agent: %s", e.Kind)
	}
	return fmt.Sprintf("agent: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) HTTPStatusCode() int {
	return e.StatusCode
}

// Client forwards messages to a single agent chat endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for endpoint. An empty endpoint is accepted:
// forwards then fail as unreachable and probes report "not configured".
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// Forward sends message to the agent and returns its reply. Every failure is
// turned into a user-facing apology; Forward never returns an empty string.
func (c *Client) Forward(ctx context.Context, message string) string {
	reply, err := c.Send(ctx, message)
	if err != nil {
		c.logger.WarnContext(ctx, "agent call failed", "err", err, "endpoint", c.endpoint)
		return FallbackReply(err)
	}
	return reply
}

// Send performs the agent call and reports failures as *Error.
func (c *Client) Send(ctx context.Context, message string) (string, error) {
	if err := validateEndpoint(c.endpoint); err != nil {
		return "", &Error{Kind: FailureUnreachable, Err: err}
	}

	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return "", &Error{Kind: FailureUnknown, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: FailureUnreachable, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &Error{Kind: FailureHTTPStatus, StatusCode: res.StatusCode, Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", classifyTransportError(fmt.Errorf("read response body: %w", err))
	}
	return decodeReply(raw)
}

// decodeReply extracts the "response" field. Non-string values are passed
// through as their JSON text.
func decodeReply(raw []byte) (string, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", &Error{Kind: FailureMalformed, Err: fmt.Errorf("decode response: %w", err)}
	}
	field, ok := payload["response"]
	if !ok || string(field) == "null" {
		return ReplyNoResponse, nil
	}
	var text string
	if err := json.Unmarshal(field, &text); err != nil {
		return string(field), nil
	}
	if strings.TrimSpace(text) == "" {
		return ReplyNoResponse, nil
	}
	return text, nil
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("endpoint not configured")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return nil
}

func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: FailureTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: FailureTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Error{Kind: FailureUnreachable, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) {
		return &Error{Kind: FailureUnreachable, Err: err}
	}
	return &Error{Kind: FailureUnknown, Err: err}
}

// FallbackReply maps a Send error to the reply shown to the sender.
func FallbackReply(err error) string {
	var agentErr *Error
	if !errors.As(err, &agentErr) {
		return ReplyUnknown
	}
	switch agentErr.Kind {
	case FailureTimeout:
		return ReplyTimeout
	case FailureUnreachable:
		return ReplyOffline
	case FailureHTTPStatus:
		return statusReply(agentErr.StatusCode)
	case FailureMalformed:
		return ReplyInvalidResponse
	default:
		return ReplyUnknown
	}
}

func statusReply(code int) string {
	switch {
	case code == http.StatusMethodNotAllowed:
		return ReplyUnavailable
	case code == http.StatusUnprocessableEntity:
		return ReplyBadRequest
	case code >= 500:
		return ReplyServerError
	case code >= 400:
		return ReplyRejected
	default:
		return fmt.Sprintf("Agent error: %d", code)
	}
}

func probeURL(endpoint string) string {
	return strings.TrimRight(strings.ReplaceAll(endpoint, "/chat", ""), "/") + "/docs"
}

// Probe reports whether the agent backend answers on its docs page.
func (c *Client) Probe(ctx context.Context) string {
	if c.endpoint == "" {
		return StatusNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL(c.endpoint), nil)
	if err != nil {
		return StatusUnreachable
	}
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "agent probe failed", "err", err)
		return StatusUnreachable
	}
	defer func() { _ = res.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	if res.StatusCode == http.StatusOK {
		return StatusHealthy
	}
	return fmt.Sprintf("unhealthy (%d)", res.StatusCode)
}
