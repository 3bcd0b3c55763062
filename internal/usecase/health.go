package usecase

import (
	"context"
	"time"
)

const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"

	DatabaseConnected    = "connected"
	DatabaseDisconnected = "disconnected"

	storePingTimeout = 5 * time.Second
)

type HealthReport struct {
	Status       string
	Service      string
	Version      string
	Timestamp    string
	Database     string
	AgentService string
}

// Health probes the store and the agent backend. Probe failures are reported
// in the result, never returned.
func (s *RelayService) Health(ctx context.Context) HealthReport {
	db := s.databaseStatus(ctx)
	overall := HealthDegraded
	if db == DatabaseConnected {
		overall = HealthHealthy
	}
	return HealthReport{
		Status:       overall,
		Service:      ServiceName,
		Version:      ServiceVersion,
		Timestamp:    timestamp(),
		Database:     db,
		AgentService: s.agent.Probe(ctx),
	}
}

func (s *RelayService) databaseStatus(ctx context.Context) string {
	if s.users == nil {
		return DatabaseDisconnected
	}
	ctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := s.users.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "health check: database error", "err", err)
		return "error: " + err.Error()
	}
	return DatabaseConnected
}
