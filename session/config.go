package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultRefreshTimeout  = 10 * time.Second
	DefaultExpiryCooldown  = time.Second
	DefaultRefreshEndpoint = "/auth/refresh"
	DefaultRetryDelay      = 500 * time.Millisecond
)

// Config configures a Manager.
type Config struct {
	BaseURL             string
	Timeout             time.Duration // per-request default
	RefreshTimeout      time.Duration
	RefreshEndpoint     string
	ClientVersion       string
	Environment         string
	ExpiryCooldown      time.Duration // re-arm delay of the expiry guard
	TransportRetries    int           // transport-level retries, 0 disables
	TransportRetryDelay time.Duration // initial backoff between transport retries
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.RefreshEndpoint == "" {
		c.RefreshEndpoint = DefaultRefreshEndpoint
	}
	if c.ExpiryCooldown <= 0 {
		c.ExpiryCooldown = DefaultExpiryCooldown
	}
	if c.TransportRetries < 0 {
		c.TransportRetries = 0
	}
	if c.TransportRetryDelay <= 0 {
		c.TransportRetryDelay = DefaultRetryDelay
	}
	return c
}

// ValidateBaseURL validates that the API base URL is properly formatted.
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("base URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}
