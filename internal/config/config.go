// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	DatabaseURL string

	OpenAIKey   string
	OpenAIModel string

	GeocoderBaseURL string
	GeocoderTimeout time.Duration

	Matcher MatcherConfig
}

// MatcherConfig carries the cluster matcher thresholds. Defaults mirror
// the alert view the clusters are detected against; overriding them is an
// operational knob, not a per-request one.
type MatcherConfig struct {
	MinClusterSize    int
	MinConsensus      float64
	RecencyWindowDays int
	IncubationDays    int
	GraceDays         int
	WindowPadBefore   time.Duration
	WindowPadAfter    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		GeocoderBaseURL: getEnv("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
		GeocoderTimeout: time.Duration(getEnvInt("GEOCODER_TIMEOUT_SECONDS", 5)) * time.Second,
		Matcher: MatcherConfig{
			MinClusterSize:    getEnvInt("CLUSTER_MIN_SIZE", 3),
			MinConsensus:      getEnvFloat("CLUSTER_MIN_CONSENSUS", 0.30),
			RecencyWindowDays: getEnvInt("CLUSTER_RECENCY_DAYS", 21),
			IncubationDays:    getEnvInt("CLUSTER_INCUBATION_DAYS", 14),
			GraceDays:         getEnvInt("CLUSTER_GRACE_DAYS", 3),
			WindowPadBefore:   24 * time.Hour,
			WindowPadAfter:    48 * time.Hour,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.Matcher.MinClusterSize < 1 {
		return fmt.Errorf("CLUSTER_MIN_SIZE must be >= 1")
	}
	if c.Matcher.MinConsensus < 0 || c.Matcher.MinConsensus > 1 {
		return fmt.Errorf("CLUSTER_MIN_CONSENSUS must be in [0,1]")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}
