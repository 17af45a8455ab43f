// Package config provides configuration loading for the credential core.
// It handles environment variable parsing and provides default values for
// all settings.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env and .env.local whenever those
// files exist in the working directory; production deployments simply ship
// without them. godotenv never overrides already-set variables, preserving
// OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the credential core.
type Config struct {
	Env             string        // Deployment environment (dev, staging, prod)
	Address         string        // HTTP server address (e.g., ":8080")
	MetricsAddress  string        // Metrics server address (e.g., ":9090")
	DatabaseDSN     string        // Database connection string (PostgreSQL)
	StoreBackend    string        // Storage backend (memory, postgres)
	ShareBaseURL    string        // Public origin used in share links
	TokenSigningKey []byte        // ed25519 private key signing OTP access tokens
	TokenIssuer     string        // Issuer claim for access tokens
	SessionTTL      time.Duration // Lifetime of OTP step-up access tokens
	OTPTTL          time.Duration // Lifetime of OTP codes
	ShareTTLDays    int           // Default share grant lifetime in days
}

// Default configuration values used when environment variables are not set
const (
	defaultAddress        = ":8080"
	defaultMetricsAddress = ":9090"
	defaultShareBaseURL   = "http://localhost:8080"
	defaultTokenIssuer    = "signatura-core"
	defaultSessionTTL     = 10 * time.Minute
	defaultOTPTTL         = 5 * time.Minute
	defaultShareTTLDays   = 7
)

// Load reads environment variables and produces a Config suitable for
// wiring the service. Returns an error if required parameters are missing
// or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("SIG_ENV", "dev"),
		Address:        getEnv("SIG_HTTP_ADDR", defaultAddress),
		MetricsAddress: getEnv("SIG_METRICS_ADDR", defaultMetricsAddress),
		ShareBaseURL:   getEnv("SIG_SHARE_BASE_URL", defaultShareBaseURL),
		TokenIssuer:    getEnv("SIG_TOKEN_ISS", defaultTokenIssuer),
		StoreBackend:   strings.ToLower(getEnv("SIG_STORE_BACKEND", "memory")),
		DatabaseDSN:    os.Getenv("SIG_DB_DSN"),
	}

	if ttl, exists := os.LookupEnv("SIG_SESSION_TTL_SECONDS"); exists {
		d, err := parseSeconds(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SIG_SESSION_TTL_SECONDS: %w", err)
		}
		cfg.SessionTTL = d
	} else {
		cfg.SessionTTL = defaultSessionTTL
	}

	if ttl, exists := os.LookupEnv("SIG_OTP_TTL_SECONDS"); exists {
		d, err := parseSeconds(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SIG_OTP_TTL_SECONDS: %w", err)
		}
		cfg.OTPTTL = d
	} else {
		cfg.OTPTTL = defaultOTPTTL
	}

	if days, exists := os.LookupEnv("SIG_SHARE_TTL_DAYS"); exists {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return Config{}, errors.New("invalid SIG_SHARE_TTL_DAYS: must be a positive integer")
		}
		cfg.ShareTTLDays = n
	} else {
		cfg.ShareTTLDays = defaultShareTTLDays
	}

	signingKey, exists := os.LookupEnv("SIG_TOKEN_SIGNING_KEY")
	if !exists {
		return Config{}, errors.New("SIG_TOKEN_SIGNING_KEY is required")
	}
	keyBytes, err := base64.StdEncoding.DecodeString(signingKey)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SIG_TOKEN_SIGNING_KEY base64: %w", err)
	}
	cfg.TokenSigningKey = keyBytes

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// parseSeconds converts a string representation of seconds to a time.Duration
// Returns an error if the value is not a valid positive integer
func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return 0, errors.New("value must be > 0")
	}
	return time.Duration(seconds) * time.Second, nil
}
