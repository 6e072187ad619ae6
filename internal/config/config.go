package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the research core. Env config only
// seeds defaults: anything the UI can edit (cycle bounds, model overrides,
// provider credentials) lives in the Store.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Pipeline  PipelineConfig
}

type DatabaseConfig struct {
	// URL selects the Postgres store; empty falls back to in-memory.
	URL string
	// DataDir is the snapshot directory for the in-memory store.
	DataDir string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type PipelineConfig struct {
	// TurnDelay paces debate turns for live listeners. Zero disables it.
	TurnDelay time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("DEEPDIVE_PORT", 8080),
		Version: envStr("DEEPDIVE_VERSION", "0.1.0"),
		Database: DatabaseConfig{
			URL:     envStr("DATABASE_URL", ""),
			DataDir: envStr("DEEPDIVE_DATA_DIR", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "deepdive-core"),
		},
		Pipeline: PipelineConfig{
			TurnDelay: envDuration("DEEPDIVE_TURN_DELAY", 400*time.Millisecond),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
