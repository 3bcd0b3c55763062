// Package config reads the relay's settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"whatsapp-relay/internal/integrations/paramstore"
)

const agentURLParam = "/agent_url"

type Config struct {
	// UsersTable is the DynamoDB table holding user profiles. Empty leaves
	// the store uninitialized.
	UsersTable       string
	DynamoDBEndpoint string

	AgentURL      string
	AllowedOrigin string
	ParamPrefix   string

	LogLevel slog.Level
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) Config {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env file", "err", err)
	}

	return Config{
		UsersTable:       getEnv("USERS_TABLE", ""),
		DynamoDBEndpoint: getEnv("DYNAMODB_ENDPOINT", ""),
		AgentURL:         getEnv("AGENT_URL", ""),
		AllowedOrigin:    getEnv("WHATSAPP_ORIGIN", "*"),
		ParamPrefix:      strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
		LogLevel:         parseLevel(getEnv("LOG_LEVEL", "info")),
	}
}

// NeedsAgentURLLookup reports whether ResolveAgentURL would call SSM.
func (c Config) NeedsAgentURLLookup() bool {
	return c.AgentURL == "" && c.ParamPrefix != ""
}

// ResolveAgentURL fills AgentURL from Parameter Store when it was not set
// directly. A missing parameter leaves the agent unconfigured.
func (c *Config) ResolveAgentURL(ctx context.Context, getter paramstore.Getter) error {
	if !c.NeedsAgentURLLookup() {
		return nil
	}
	if getter == nil {
		return errors.New("config: paramstore getter must not be nil")
	}
	v, err := getter.GetParameter(ctx, c.ParamPrefix+agentURLParam)
	if errors.Is(err, paramstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: resolve agent url: %w", err)
	}
	c.AgentURL = v
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
