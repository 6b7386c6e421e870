package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/makeasinger/deckflow/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	JWT    JWTConfig
	Client ClientConfig
	Stream StreamConfig
	Worker WorkerConfig
	Store  StoreConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

// ClientConfig is what the orchestrator needs before it may touch the network.
type ClientConfig struct {
	BaseURL        string
	WSURL          string
	AuthToken      string
	RequestTimeout time.Duration
}

type StreamConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	CloseGrace       time.Duration
	HandshakeTimeout time.Duration
}

type WorkerConfig struct {
	Concurrency int
	StepDelay   time.Duration
	SlideCount  int
}

type StoreConfig struct {
	Backend string // memory or redis
	TTL     time.Duration
}

// Validate reports a missing token or base URL as a configuration error.
func (c ClientConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.BaseURL) == "" {
		missing = append(missing, "base URL")
	}
	if strings.TrimSpace(c.AuthToken) == "" {
		missing = append(missing, "auth token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", model.ErrConfiguration, strings.Join(missing, " and "))
	}
	return nil
}

// StreamBaseURL returns the websocket base, derived from BaseURL when no
// explicit WSURL is set.
func (c ClientConfig) StreamBaseURL() string {
	if c.WSURL != "" {
		return strings.TrimRight(c.WSURL, "/")
	}
	base := strings.TrimRight(c.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// Load reads configuration from defaults, an optional config.yaml and the
// environment. A nil v uses a fresh viper instance; callers that bind CLI
// flags pass their own.
func Load(v *viper.Viper) (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("DECKFLOW_TOKEN")
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")

	if v == nil {
		v = viper.New()
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("client.base_url", "DECKFLOW_BASE_URL")
	_ = v.BindEnv("client.ws_url", "DECKFLOW_WS_URL")
	_ = v.BindEnv("client.auth_token", "DECKFLOW_TOKEN")
	_ = v.BindEnv("client.request_timeout", "DECKFLOW_REQUEST_TIMEOUT")
	_ = v.BindEnv("stream.max_attempts", "STREAM_MAX_ATTEMPTS")
	_ = v.BindEnv("stream.base_delay", "STREAM_BASE_DELAY")
	_ = v.BindEnv("stream.max_delay", "STREAM_MAX_DELAY")
	_ = v.BindEnv("stream.close_grace", "STREAM_CLOSE_GRACE")
	_ = v.BindEnv("stream.handshake_timeout", "STREAM_HANDSHAKE_TIMEOUT")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.step_delay", "WORKER_STEP_DELAY")
	_ = v.BindEnv("worker.slide_count", "WORKER_SLIDE_COUNT")
	_ = v.BindEnv("store.backend", "STORE_BACKEND")
	_ = v.BindEnv("store.ttl", "STORE_TTL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("client.base_url", "")
	v.SetDefault("client.ws_url", "")
	v.SetDefault("client.request_timeout", 30*time.Second)
	v.SetDefault("stream.max_attempts", 5)
	v.SetDefault("stream.base_delay", 500*time.Millisecond)
	v.SetDefault("stream.max_delay", 10*time.Second)
	v.SetDefault("stream.close_grace", 1500*time.Millisecond)
	v.SetDefault("stream.handshake_timeout", 10*time.Second)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.step_delay", 750*time.Millisecond)
	v.SetDefault("worker.slide_count", 5)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.ttl", 24*time.Hour)

	// Try to read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		Client: ClientConfig{
			BaseURL:        v.GetString("client.base_url"),
			WSURL:          v.GetString("client.ws_url"),
			AuthToken:      v.GetString("client.auth_token"),
			RequestTimeout: v.GetDuration("client.request_timeout"),
		},
		Stream: StreamConfig{
			MaxAttempts:      v.GetInt("stream.max_attempts"),
			BaseDelay:        v.GetDuration("stream.base_delay"),
			MaxDelay:         v.GetDuration("stream.max_delay"),
			CloseGrace:       v.GetDuration("stream.close_grace"),
			HandshakeTimeout: v.GetDuration("stream.handshake_timeout"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			StepDelay:   v.GetDuration("worker.step_delay"),
			SlideCount:  v.GetInt("worker.slide_count"),
		},
		Store: StoreConfig{
			Backend: v.GetString("store.backend"),
			TTL:     v.GetDuration("store.ttl"),
		},
	}

	return cfg, nil
}
