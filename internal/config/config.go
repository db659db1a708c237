// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures the settings shared by every subcommand that talks to the
// remote API.
type Config struct {
	APIKey       string
	WorkspaceID  string
	BaseURL      string
	HTTPTimeout  time.Duration
	RateLimitRPS float64
	PollInterval time.Duration
	PollTimeout  time.Duration
}

var (
	// ErrMissingAPIKey indicates POSTMAN_API_KEY was not provided.
	ErrMissingAPIKey = errors.New("POSTMAN_API_KEY must be provided")
	// ErrMissingWorkspaceID indicates POSTMAN_WORKSPACE_ID was not provided.
	ErrMissingWorkspaceID = errors.New("POSTMAN_WORKSPACE_ID must be provided")
)

const (
	defaultBaseURL      = "https://api.getpostman.com"
	defaultHTTPTimeout  = 30 * time.Second
	defaultRateLimitRPS = 5
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 180 * time.Second
)

// Default returns baseline configuration values before environment overrides.
func Default() Config {
	return Config{
		BaseURL:      defaultBaseURL,
		HTTPTimeout:  defaultHTTPTimeout,
		RateLimitRPS: defaultRateLimitRPS,
		PollInterval: defaultPollInterval,
		PollTimeout:  defaultPollTimeout,
	}
}

// Load constructs configuration from environment variables, falling back to
// defaults. Missing required variables fail before any network call.
func Load() (Config, error) {
	cfg := Default()

	cfg.APIKey = strings.TrimSpace(os.Getenv("POSTMAN_API_KEY"))
	if cfg.APIKey == "" {
		return cfg, ErrMissingAPIKey
	}

	cfg.WorkspaceID = strings.TrimSpace(os.Getenv("POSTMAN_WORKSPACE_ID"))
	if cfg.WorkspaceID == "" {
		return cfg, ErrMissingWorkspaceID
	}

	if base := strings.TrimSpace(os.Getenv("POSTMAN_API_BASE_URL")); base != "" {
		if _, err := url.ParseRequestURI(base); err != nil {
			return cfg, fmt.Errorf("invalid POSTMAN_API_BASE_URL: %w", err)
		}
		cfg.BaseURL = strings.TrimRight(base, "/")
	}

	if timeoutMs := os.Getenv("POSTMAN_HTTP_TIMEOUT_MS"); timeoutMs != "" {
		timeout, err := parsePositiveDuration(timeoutMs)
		if err != nil {
			return cfg, fmt.Errorf("invalid POSTMAN_HTTP_TIMEOUT_MS: %w", err)
		}
		cfg.HTTPTimeout = timeout
	}

	if rpsStr := strings.TrimSpace(os.Getenv("POSTMAN_RATE_LIMIT_RPS")); rpsStr != "" {
		rps, err := strconv.ParseFloat(rpsStr, 64)
		if err != nil || rps <= 0 {
			return cfg, fmt.Errorf("invalid POSTMAN_RATE_LIMIT_RPS: %s", rpsStr)
		}
		cfg.RateLimitRPS = rps
	}

	if intervalMs := os.Getenv("POLL_INTERVAL_MS"); intervalMs != "" {
		interval, err := parsePositiveDuration(intervalMs)
		if err != nil {
			return cfg, fmt.Errorf("invalid POLL_INTERVAL_MS: %w", err)
		}
		cfg.PollInterval = interval
	}

	if timeoutMs := os.Getenv("POLL_TIMEOUT_MS"); timeoutMs != "" {
		timeout, err := parsePositiveDuration(timeoutMs)
		if err != nil {
			return cfg, fmt.Errorf("invalid POLL_TIMEOUT_MS: %w", err)
		}
		cfg.PollTimeout = timeout
	}

	return cfg, nil
}

func parsePositiveDuration(ms string) (time.Duration, error) {
	val, err := strconv.Atoi(ms)
	if err != nil {
		return 0, err
	}
	if val <= 0 {
		return 0, fmt.Errorf("value must be positive: %d", val)
	}
	return time.Duration(val) * time.Millisecond, nil
}
