package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the client's environment configuration.
type Config struct {
	// ServerWSURL is the websocket endpoint for the channel connection.
	ServerWSURL string `env:"CHAT_WS_URL" env-default:"ws://localhost:8080/ws"`

	// ServerHTTPURL is the base URL for history, presence and upload
	// requests.
	ServerHTTPURL string `env:"CHAT_HTTP_URL" env-default:"http://localhost:8080"`

	// Token is the session JWT carrying the user identity claims.
	Token string `env:"CHAT_TOKEN" env-required:"true"`

	// FetchTimeout bounds history and presence fetches.
	FetchTimeout time.Duration `env:"CHAT_FETCH_TIMEOUT" env-default:"10s"`

	// ReconnectBase and ReconnectCap bound the reconnect backoff.
	ReconnectBase time.Duration `env:"CHAT_RECONNECT_BASE" env-default:"1s"`
	ReconnectCap  time.Duration `env:"CHAT_RECONNECT_CAP" env-default:"30s"`

	// LogLevel is a zerolog level name.
	LogLevel string `env:"CHAT_LOG_LEVEL" env-default:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment variables: %w", err)
	}
	return cfg, nil
}
