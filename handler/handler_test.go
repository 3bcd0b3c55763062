package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"whatsapp-relay/internal/usecase"
)

type stubService struct {
	out    usecase.RelayOutput
	err    error
	in     usecase.RelayInput
	calls  int
	report usecase.HealthReport
}

func (s *stubService) Relay(_ context.Context, in usecase.RelayInput) (usecase.RelayOutput, error) {
	s.calls++
	s.in = in
	return s.out, s.err
}

func (s *stubService) Health(_ context.Context) usecase.HealthReport {
	return s.report
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func mustNewHandler(t *testing.T, svc Service, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(svc, opts...)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_WhatsAppHappyPath(t *testing.T) {
	svc := &stubService{out: usecase.RelayOutput{
		PhoneNumber: "+1555",
		Message:     "hi there",
		Timestamp:   "2026-03-01T12:00:00Z",
		Status:      usecase.StatusSuccess,
	}}
	h := mustNewHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/whatsapp", `{"phoneNumber":"+1555","message":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.RelayInput{PhoneNumber: "+1555", Message: "hello"}, svc.in)
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	out := parseBody[whatsappResponse](t, resp.Body)
	require.Equal(t, whatsappResponse{
		PhoneNumber: "+1555",
		Message:     "hi there",
		Timestamp:   "2026-03-01T12:00:00Z",
		Status:      "success",
	}, out)
}

func TestHandle_WhatsAppInvalidBody(t *testing.T) {
	svc := &stubService{}
	h := mustNewHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/whatsapp", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, svc.calls)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidRequest), out.Error)
	require.Equal(t, http.StatusBadRequest, out.StatusCode)
	require.NotEmpty(t, out.Timestamp)
}

func TestHandle_WhatsAppBase64Body(t *testing.T) {
	svc := &stubService{out: usecase.RelayOutput{Status: usecase.StatusSuccess}}
	h := mustNewHandler(t, svc)

	event := makeEvent(http.MethodPost, "/whatsapp", base64.StdEncoding.EncodeToString([]byte(`{"phoneNumber":"+1555","message":"hello"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "+1555", svc.in.PhoneNumber)

	event.Body = "%%%"
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid request", err: &usecase.Error{Code: usecase.ErrorInvalidRequest, Reason: "phoneNumber and message are required"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidRequest)},
		{name: "store unavailable", err: &usecase.Error{Code: usecase.ErrorStoreUnavailable, Reason: "store_user_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorStoreUnavailable)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "x"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := mustNewHandler(t, &stubService{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/whatsapp", `{"phoneNumber":"+1555","message":"hello"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.Equal(t, tc.status, out.StatusCode)
		})
	}
}

func TestHandle_Root(t *testing.T) {
	h := mustNewHandler(t, &stubService{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[rootResponse](t, resp.Body)
	require.Equal(t, usecase.ServiceName, out.Service)
	require.Equal(t, usecase.ServiceVersion, out.Version)
	require.Contains(t, out.Endpoints, "whatsapp")
	require.Contains(t, out.Endpoints, "health")
}

func TestHandle_Health(t *testing.T) {
	svc := &stubService{report: usecase.HealthReport{
		Status:       usecase.HealthDegraded,
		Service:      usecase.ServiceName,
		Version:      usecase.ServiceVersion,
		Timestamp:    "2026-03-01T12:00:00Z",
		Database:     "error: ResourceNotFoundException",
		AgentService: "healthy",
	}}
	h := mustNewHandler(t, svc)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/health/", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[map[string]any](t, resp.Body)
	require.Equal(t, "degraded", out["status"])
	require.Equal(t, map[string]any{
		"database":     "error: ResourceNotFoundException",
		"agentService": "healthy",
	}, out["dependencies"])
}

func TestHandle_RoutingErrors(t *testing.T) {
	h := mustNewHandler(t, &stubService{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/nope", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/whatsapp", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodPost, "/health", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_CORS(t *testing.T) {
	h := mustNewHandler(t, &stubService{}, WithAllowedOrigin("https://hooks.example.com"))

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodOptions, "/whatsapp", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://hooks.example.com", resp.Headers["Access-Control-Allow-Origin"])
	require.Contains(t, resp.Headers["Access-Control-Allow-Methods"], "POST")

	h = mustNewHandler(t, &stubService{}, WithAllowedOrigin(""))
	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/", ""))
	require.NoError(t, err)
	require.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := mustNewHandler(t, &stubService{out: usecase.RelayOutput{Status: usecase.StatusSuccess}})

	event := makeEvent(http.MethodPost, "/whatsapp", `{"phoneNumber":"+1555","message":"hello"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "/", normalizePath(""))
	require.Equal(t, "/", normalizePath("/"))
	require.Equal(t, "/whatsapp", normalizePath("/whatsapp/"))
}
