package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealth_AllHealthy(t *testing.T) {
	svc := newTestService(t, &mockStore{}, &mockAgent{probe: "healthy"})

	report := svc.Health(context.Background())
	require.Equal(t, HealthHealthy, report.Status)
	require.Equal(t, DatabaseConnected, report.Database)
	require.Equal(t, "healthy", report.AgentService)
	require.Equal(t, ServiceName, report.Service)
	require.Equal(t, ServiceVersion, report.Version)
	require.NotEmpty(t, report.Timestamp)
}

func TestHealth_StoreDownAgentUp(t *testing.T) {
	svc := newTestService(t, &mockStore{pingErr: errors.New("ResourceNotFoundException")}, &mockAgent{probe: "healthy"})

	report := svc.Health(context.Background())
	require.Equal(t, HealthDegraded, report.Status)
	require.Equal(t, "error: ResourceNotFoundException", report.Database)
	require.Equal(t, "healthy", report.AgentService)
}

func TestHealth_StoreNotInitialized(t *testing.T) {
	svc := newTestService(t, nil, &mockAgent{probe: "not configured"})

	report := svc.Health(context.Background())
	require.Equal(t, HealthDegraded, report.Status)
	require.Equal(t, DatabaseDisconnected, report.Database)
	require.Equal(t, "not configured", report.AgentService)
}

func TestHealth_AgentDownDoesNotDegrade(t *testing.T) {
	svc := newTestService(t, &mockStore{}, &mockAgent{probe: "unreachable"})

	report := svc.Health(context.Background())
	require.Equal(t, HealthHealthy, report.Status)
	require.Equal(t, "unreachable", report.AgentService)
}
