package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	TokenSecret string
	Port        string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	DevelopmentMode bool
	AllowedOrigins  string

	// Tracing (optional; disabled when empty)
	OtelCollectorAddr string

	// Per-event rate limits in ulule "count-period" format
	RateLimitGameAction  string
	RateLimitSendMessage string
	RateLimitCreateRoom  string
	RateLimitJoinRoom    string
	RateLimitConfession  string
	RateLimitStartGame   string
	RateLimitNickname    string
	RateLimitWsIP        string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: TOKEN_SECRET (minimum 32 characters). The server refuses to
	// start without it; session tokens would be forgeable otherwise.
	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	if cfg.TokenSecret == "" {
		errors = append(errors, "TOKEN_SECRET is required")
	} else if len(cfg.TokenSecret) < 32 {
		errors = append(errors, fmt.Sprintf("TOKEN_SECRET must be at least 32 characters (got %d)", len(cfg.TokenSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	// Per-event rate limits (format: count-period; the period unit S/M/H may
	// carry a multiplier, e.g. "10-10S" is 10 per 10 seconds)
	cfg.RateLimitGameAction = getEnvOrDefault("RATE_LIMIT_GAME_ACTION", "30-S")
	cfg.RateLimitSendMessage = getEnvOrDefault("RATE_LIMIT_SEND_MESSAGE", "10-10S")
	cfg.RateLimitCreateRoom = getEnvOrDefault("RATE_LIMIT_CREATE_ROOM", "3-M")
	cfg.RateLimitJoinRoom = getEnvOrDefault("RATE_LIMIT_JOIN_ROOM", "10-M")
	cfg.RateLimitConfession = getEnvOrDefault("RATE_LIMIT_CONFESSION", "5-M")
	cfg.RateLimitStartGame = getEnvOrDefault("RATE_LIMIT_START_GAME", "5-30S")
	cfg.RateLimitNickname = getEnvOrDefault("RATE_LIMIT_NICKNAME", "3-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated successfully")
	slog.Info("Configuration",
		"token_secret", redactSecret(cfg.TokenSecret),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"otel_collector_addr", cfg.OtelCollectorAddr,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
