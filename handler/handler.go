package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"whatsapp-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	errorNotFound         = "NOT_FOUND"
	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

type Service interface {
	Relay(ctx context.Context, in usecase.RelayInput) (usecase.RelayOutput, error)
	Health(ctx context.Context) usecase.HealthReport
}

type whatsappRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type whatsappResponse struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	Status      string `json:"status"`
}

type healthResponse struct {
	Status       string             `json:"status"`
	Service      string             `json:"service"`
	Version      string             `json:"version"`
	Timestamp    string             `json:"timestamp"`
	Dependencies healthDependencies `json:"dependencies"`
}

type healthDependencies struct {
	Database     string `json:"database"`
	AgentService string `json:"agentService"`
}

type rootResponse struct {
	Status      string            `json:"status"`
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Endpoints   map[string]string `json:"endpoints"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
}

type Handler struct {
	svc           Service
	allowedOrigin string
	logger        *slog.Logger
}

type Option func(*Handler)

// WithAllowedOrigin sets the CORS origin; empty means any origin.
func WithAllowedOrigin(origin string) Option {
	return func(h *Handler) {
		h.allowedOrigin = strings.TrimSpace(origin)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(svc Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	h := &Handler{svc: svc, allowedOrigin: "*", logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.allowedOrigin == "" {
		h.allowedOrigin = "*"
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h, nil
}

// Handle routes an API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	logger := h.logger.With("correlation_id", correlationID)
	path := normalizePath(req.Path)
	logger.InfoContext(ctx, "request received", "method", req.HTTPMethod, "path", path)

	var resp events.APIGatewayProxyResponse
	switch {
	case req.HTTPMethod == http.MethodOptions:
		resp = events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	case path == "/":
		resp = h.onlyGet(req, h.root)
	case path == "/health":
		resp = h.onlyGet(req, func() events.APIGatewayProxyResponse { return h.health(ctx) })
	case path == "/whatsapp":
		if req.HTTPMethod != http.MethodPost {
			resp = errorJSON(http.StatusMethodNotAllowed, errorMethodNotAllowed, "")
			break
		}
		resp = h.whatsapp(ctx, logger, req)
	default:
		resp = errorJSON(http.StatusNotFound, errorNotFound, "")
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	for k, v := range h.corsHeaders() {
		resp.Headers[k] = v
	}
	resp.Headers[correlationHeader] = correlationID
	logger.InfoContext(ctx, "request completed", "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) onlyGet(req events.APIGatewayProxyRequest, fn func() events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if req.HTTPMethod != http.MethodGet {
		return errorJSON(http.StatusMethodNotAllowed, errorMethodNotAllowed, "")
	}
	return fn()
}

func (h *Handler) root() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusOK, rootResponse{
		Status:      usecase.HealthHealthy,
		Service:     usecase.ServiceName,
		Version:     usecase.ServiceVersion,
		Description: usecase.ServiceDescription,
		Endpoints: map[string]string{
			"root":     "GET / (Service info)",
			"health":   "GET /health (Health check)",
			"whatsapp": "POST /whatsapp (Main WhatsApp endpoint)",
		},
	})
}

func (h *Handler) health(ctx context.Context) events.APIGatewayProxyResponse {
	report := h.svc.Health(ctx)
	return jsonResponse(http.StatusOK, healthResponse{
		Status:    report.Status,
		Service:   report.Service,
		Version:   report.Version,
		Timestamp: report.Timestamp,
		Dependencies: healthDependencies{
			Database:     report.Database,
			AgentService: report.AgentService,
		},
	})
}

func (h *Handler) whatsapp(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body, err := requestBody(req)
	if err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidRequest), "body is not valid base64")
	}
	var in whatsappRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidRequest), "body must be a JSON object")
	}

	out, err := h.svc.Relay(ctx, usecase.RelayInput{PhoneNumber: in.PhoneNumber, Message: in.Message})
	if err != nil {
		status, code, detail := mapError(err)
		logger.WarnContext(ctx, "whatsapp request failed", "err", err, "status", status)
		return errorJSON(status, code, detail)
	}

	return jsonResponse(http.StatusOK, whatsappResponse{
		PhoneNumber: out.PhoneNumber,
		Message:     out.Message,
		Timestamp:   out.Timestamp,
		Status:      out.Status,
	})
}

func mapError(err error) (int, string, string) {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal), ""
	}
	switch usecaseErr.Code {
	case usecase.ErrorInvalidRequest:
		return http.StatusBadRequest, string(usecaseErr.Code), usecaseErr.Reason
	case usecase.ErrorStoreUnavailable:
		return http.StatusInternalServerError, string(usecaseErr.Code), "database unavailable"
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal), ""
	}
}

func (h *Handler) corsHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  h.allowedOrigin,
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": "*",
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func normalizePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return "/"
	}
	return p
}

// headerValue looks a header up case-insensitively; API Gateway passes header
// names through as the client sent them.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func errorJSON(status int, code, detail string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{
		Error:      code,
		Detail:     detail,
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

var newUUID = func() string {
	return uuid.NewString()
}
