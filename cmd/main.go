package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"whatsapp-relay/handler"
	"whatsapp-relay/internal/config"
	"whatsapp-relay/internal/integrations/agent"
	"whatsapp-relay/internal/integrations/paramstore"
	"whatsapp-relay/internal/repository"
	"whatsapp-relay/internal/usecase"
)

const startupPingTimeout = 5 * time.Second

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	if cfg.NeedsAgentURLLookup() {
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			logger.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		if err := cfg.ResolveAgentURL(ctx, params); err != nil {
			logger.Error("failed to resolve agent URL", "err", err)
			os.Exit(1)
		}
	}
	if cfg.AgentURL == "" {
		logger.Warn("AGENT_URL is not set; replies will report the assistant as offline")
	}

	// ---- Clients ----
	var users usecase.UserStore
	if cfg.UsersTable == "" {
		logger.Error("USERS_TABLE is not set; requests will fail until the store is configured")
	} else {
		dynamoClient := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cfg.DynamoDBEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
			}
		})
		store, err := repository.New(dynamoClient, cfg.UsersTable)
		if err != nil {
			logger.Error("failed to create user store", "err", err)
			os.Exit(1)
		}
		users = store

		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		if err := store.Ping(pingCtx); err != nil {
			logger.Error("user store ping failed", "err", err, "table", cfg.UsersTable)
		} else {
			logger.Info("connected to user store", "table", cfg.UsersTable)
		}
		cancel()
	}

	agentClient := agent.NewClient(cfg.AgentURL, agent.WithLogger(logger))

	// ---- Handler ----
	relayService, err := usecase.NewRelayService(users, agentClient, logger)
	if err != nil {
		logger.Error("failed to create relay service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(relayService, handler.WithAllowedOrigin(cfg.AllowedOrigin), handler.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	logger.Info("starting", "service", usecase.ServiceName, "version", usecase.ServiceVersion, "agent_url", cfg.AgentURL)
	lambda.Start(h.Handle)
}
