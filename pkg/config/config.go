// Package config handles application configuration.
//
// It provides:
//   - Flag parsing with CLI arguments
//   - Environment variable support (with CLI override)
//   - Configuration validation
//   - Precedence: CLI flags > environment variables > defaults
//
// Supported environment variables:
//   - JATEKUKKO_CUSTOMER_NUMBER: Portal customer number
//   - JATEKUKKO_PASSWORD: Portal password
//   - JATEKUKKO_STORE_PATH: Path to the entry store
//   - JATEKUKKO_PORTAL_URL: Portal base URL
//   - JATEKUKKO_PORT: HTTP server port
//   - JATEKUKKO_UPDATE_INTERVAL: Refresh interval (Go duration)
//   - JATEKUKKO_AUTH_FAILURE_THRESHOLD: Auth failures in a row before polling pauses
//   - JATEKUKKO_REQUEST_TIMEOUT: Timeout for portal requests (Go duration)
//   - JATEKUKKO_TIMEZONE: Time zone that decides what "today" is
//   - JATEKUKKO_LOG_LEVEL: Logging level (debug, info, warn, error)
//   - JATEKUKKO_LOG_FORMAT: Log format (text, json)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata" // time zone database for minimal container images

	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

const envPrefix = "JATEKUKKO_"

// Config holds the application configuration
type Config struct {
	// Credentials; when empty they are read from the entry store
	CustomerNumber string
	Password       string

	// Entry storage
	StorePath string

	// Portal configuration
	PortalURL      string
	RequestTimeout time.Duration

	// Server configuration
	Port int

	// Polling configuration
	UpdateInterval       time.Duration
	AuthFailureThreshold int

	// Calendar days are evaluated in this zone
	Timezone string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load parses environment variables and command-line flags and returns a Config
// Precedence: CLI flags > environment variables > defaults
func Load() *Config {
	return LoadWithArgs(os.Args[1:])
}

// LoadWithArgs loads configuration with explicit arguments (useful for testing)
func LoadWithArgs(args []string) *Config {
	// Create a new FlagSet for this invocation (allows multiple calls in tests)
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	cfg := Bind(fs)

	// FlagSet is configured with ContinueOnError, so parse errors are handled gracefully
	_ = fs.Parse(args)

	return cfg
}

// Bind registers the configuration flags on fs, with defaults taken from the
// environment, and returns the Config they populate once fs is parsed.
func Bind(fs *flag.FlagSet) *Config {
	cfg := &Config{}

	fs.StringVar(&cfg.CustomerNumber, "customer-number", getenv("CUSTOMER_NUMBER"), "Portal customer number (env: JATEKUKKO_CUSTOMER_NUMBER)")
	fs.StringVar(&cfg.Password, "password", getenv("PASSWORD"), "Portal password (env: JATEKUKKO_PASSWORD)")
	fs.StringVar(&cfg.StorePath, "store-path", envString("STORE_PATH", defaultStorePath()), "Path to the entry store (env: JATEKUKKO_STORE_PATH)")

	fs.StringVar(&cfg.PortalURL, "portal-url", envString("PORTAL_URL", portal.DefaultBaseURL), "Portal base URL (env: JATEKUKKO_PORTAL_URL)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", envDuration("REQUEST_TIMEOUT", 30*time.Second), "Timeout for a single portal request (env: JATEKUKKO_REQUEST_TIMEOUT)")

	fs.IntVar(&cfg.Port, "port", envInt("PORT", 9100), "HTTP server listen port (env: JATEKUKKO_PORT)")

	fs.DurationVar(&cfg.UpdateInterval, "update-interval", envDuration("UPDATE_INTERVAL", 6*time.Hour), "Portal refresh interval (env: JATEKUKKO_UPDATE_INTERVAL)")
	fs.IntVar(&cfg.AuthFailureThreshold, "auth-failure-threshold", envInt("AUTH_FAILURE_THRESHOLD", 3), "Rejected logins in a row before polling pauses for re-authentication (env: JATEKUKKO_AUTH_FAILURE_THRESHOLD)")

	fs.StringVar(&cfg.Timezone, "timezone", envString("TIMEZONE", "Europe/Helsinki"), "IANA time zone used to decide the current day (env: JATEKUKKO_TIMEZONE)")

	fs.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", "info"), "Logging verbosity: debug, info, warn, error (env: JATEKUKKO_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", envString("LOG_FORMAT", "text"), "Log format: text, json (env: JATEKUKKO_LOG_FORMAT)")

	return cfg
}

func defaultStorePath() string {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		homeDir = "/root"
	}
	return filepath.Join(homeDir, ".jatekukko-exporter", "entries.db")
}

func getenv(name string) string {
	return os.Getenv(envPrefix + name)
}

func envString(name, defaultValue string) string {
	if v := getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// envInt parses an environment variable as an integer, returning default if invalid
func envInt(name string, defaultValue int) int {
	v := getenv(name)
	if v == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return result
}

// envDuration parses an environment variable as a duration, returning default if invalid
func envDuration(name string, defaultValue time.Duration) time.Duration {
	v := getenv(name)
	if v == "" {
		return defaultValue
	}
	result, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return result
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Password != "" && c.CustomerNumber == "" {
		return fmt.Errorf("customer-number is required when password is set (use -customer-number flag or JATEKUKKO_CUSTOMER_NUMBER env var)")
	}

	if c.StorePath == "" {
		return fmt.Errorf("store-path must not be empty")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Port)
	}

	if c.RequestTimeout < time.Second {
		return fmt.Errorf("invalid request-timeout: %s (must be at least 1s)", c.RequestTimeout)
	}

	if c.UpdateInterval < time.Minute {
		return fmt.Errorf("invalid update-interval: %s (must be at least 1m)", c.UpdateInterval)
	}

	if c.AuthFailureThreshold < 1 {
		return fmt.Errorf("invalid auth-failure-threshold: %d (must be at least 1)", c.AuthFailureThreshold)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone: %s: %w", c.Timezone, err)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log-level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log-format: %s (must be one of: text, json)", c.LogFormat)
	}

	return nil
}

// Location returns the configured time zone, UTC if it cannot be loaded
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// String returns a string representation of the config (without sensitive data)
func (c *Config) String() string {
	return fmt.Sprintf("Config{CustomerNumber: %s, StorePath: %s, PortalURL: %s, Port: %d, UpdateInterval: %s, AuthFailureThreshold: %d, RequestTimeout: %s, Timezone: %s, LogLevel: %s, LogFormat: %s}",
		c.CustomerNumber, c.StorePath, c.PortalURL, c.Port, c.UpdateInterval, c.AuthFailureThreshold, c.RequestTimeout, c.Timezone, c.LogLevel, c.LogFormat)
}
