package usecase

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"whatsapp-relay/internal/domain"
)

const (
	ServiceName        = "WhatsApp Bot Service"
	ServiceVersion     = "2.0.0"
	ServiceDescription = "Handles WhatsApp messages and routes to AI agent"

	StatusSuccess = "success"
	StatusError   = "error"

	replyProcessingFailed = "Sorry, something went wrong processing your request. Please try again later."
)

// UserStore is the document store seen by the relay. A nil UserStore means
// the store was never initialized.
type UserStore interface {
	GetOrCreateUser(ctx context.Context, phoneNumber string) (domain.User, error)
	RecordMessage(ctx context.Context, phoneNumber string) error
	Ping(ctx context.Context) error
}

// Agent forwards a message and always yields a reply.
type Agent interface {
	Forward(ctx context.Context, message string) string
	Probe(ctx context.Context) string
}

type RelayService struct {
	users  UserStore
	agent  Agent
	logger *slog.Logger
}

type RelayInput struct {
	PhoneNumber string
	Message     string
}

type RelayOutput struct {
	PhoneNumber string
	Message     string
	Timestamp   string
	Status      string
}

func NewRelayService(users UserStore, agent Agent, logger *slog.Logger) (*RelayService, error) {
	if agent == nil {
		return nil, errors.New("usecase: agent must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayService{users: users, agent: agent, logger: logger}, nil
}

var now = func() time.Time {
	return time.Now().UTC()
}

func timestamp() string {
	return now().Format(time.RFC3339Nano)
}

// Relay resolves the sender, forwards the message to the agent and records
// usage. Only invalid input and an unavailable store are returned as errors;
// once the sender is resolved the caller always gets a reply.
func (s *RelayService) Relay(ctx context.Context, in RelayInput) (out RelayOutput, err error) {
	if strings.TrimSpace(in.PhoneNumber) == "" || strings.TrimSpace(in.Message) == "" {
		return RelayOutput{}, newError(ErrorInvalidRequest, "phoneNumber and message are required", nil)
	}
	logger := s.logger.With("phone_number", in.PhoneNumber)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "relay panicked", "panic", r, "stack", string(debug.Stack()))
			out = RelayOutput{
				PhoneNumber: in.PhoneNumber,
				Message:     replyProcessingFailed,
				Timestamp:   timestamp(),
				Status:      StatusError,
			}
			err = nil
		}
	}()

	if s.users == nil {
		logger.ErrorContext(ctx, "user store not initialized")
		return RelayOutput{}, newError(ErrorStoreUnavailable, "store_not_initialized", nil)
	}
	user, err := s.users.GetOrCreateUser(ctx, in.PhoneNumber)
	if err != nil {
		logger.ErrorContext(ctx, "user lookup failed", "err", err)
		return RelayOutput{}, newError(ErrorStoreUnavailable, "store_user_error", err)
	}
	logger.DebugContext(ctx, "user resolved", "message_count", user.MessageCount, "created_at", user.CreatedAt)

	reply := s.agent.Forward(ctx, in.Message)
	logger.DebugContext(ctx, "agent replied", "reply_len", len(reply))

	s.recordUsage(ctx, logger, in.PhoneNumber)

	return RelayOutput{
		PhoneNumber: in.PhoneNumber,
		Message:     reply,
		Timestamp:   timestamp(),
		Status:      StatusSuccess,
	}, nil
}

// recordUsage is best-effort; nothing it does reaches the caller.
func (s *RelayService) recordUsage(ctx context.Context, logger *slog.Logger, phoneNumber string) {
	defer func() {
		if r := recover(); r != nil {
			logger.WarnContext(ctx, "usage recording panicked", "panic", r)
		}
	}()
	if err := s.users.RecordMessage(ctx, phoneNumber); err != nil {
		logger.WarnContext(ctx, "could not update message count", "err", err)
	}
}
