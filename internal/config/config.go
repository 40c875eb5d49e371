/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config covers process level configuration read from environment variables.
// Party preferences that can change while the server runs (fair queue, user
// limits, buffering thresholds) live in the prefs store instead.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL shown to phones (e.g., http://192.168.1.10:8080)

	SongsDir     string // Root of the song library
	ScratchRoot  string // Root under which per-process scratch dirs are created
	ManifestPath string // Song library manifest location
	DBPath       string // SQLite play-history database
	PrefsPath    string // Party preferences file (YAML)

	FFmpegBin  string
	FFprobeBin string

	// StreamingFormat selects how transcoded songs are delivered:
	// "progressive" (one growing file) or "hls" (playlist + segments).
	StreamingFormat string

	// Hardware encoder to prefer (e.g. "h264_v4l2m2m" on Pi-class boards).
	// Empty means software encoding only.
	HardwareEncoder string

	MetricsBind string

	// Readiness and client-connect poll ceilings. These are empirically
	// tuned per target hardware, so they are configuration rather than
	// constants.
	BufferPollInterval  time.Duration
	BufferPollMax       int
	ConnectPollInterval time.Duration
	ConnectPollMax      int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("SKALD_ENV", "development"),
		HTTPBind:    getEnv("SKALD_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("SKALD_HTTP_PORT", 8080),
		BaseURL:     getEnv("SKALD_BASE_URL", ""),

		SongsDir:     getEnv("SKALD_SONGS_DIR", "./songs"),
		ScratchRoot:  getEnv("SKALD_SCRATCH_ROOT", os.TempDir()),
		ManifestPath: getEnv("SKALD_MANIFEST_PATH", "./songs/manifest.yaml"),
		DBPath:       getEnv("SKALD_DB_PATH", "./skald.db"),
		PrefsPath:    getEnv("SKALD_PREFS_PATH", "./prefs.yaml"),

		FFmpegBin:  getEnv("SKALD_FFMPEG_BIN", "ffmpeg"),
		FFprobeBin: getEnv("SKALD_FFPROBE_BIN", "ffprobe"),

		StreamingFormat: getEnv("SKALD_STREAMING_FORMAT", "hls"),

		HardwareEncoder: getEnv("SKALD_HARDWARE_ENCODER", ""),

		MetricsBind: getEnv("SKALD_METRICS_BIND", "127.0.0.1:9000"),

		BufferPollInterval:  time.Duration(getEnvInt("SKALD_BUFFER_POLL_MS", 50)) * time.Millisecond,
		BufferPollMax:       getEnvInt("SKALD_BUFFER_POLL_MAX", 2500),
		ConnectPollInterval: time.Duration(getEnvInt("SKALD_CONNECT_POLL_MS", 100)) * time.Millisecond,
		ConnectPollMax:      getEnvInt("SKALD_CONNECT_POLL_MAX", 100),

		TracingEnabled:    getEnvBool("SKALD_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SKALD_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SKALD_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.SongsDir == "" {
		return nil, fmt.Errorf("SKALD_SONGS_DIR must not be empty")
	}

	if cfg.StreamingFormat != "hls" && cfg.StreamingFormat != "progressive" {
		return nil, fmt.Errorf("SKALD_STREAMING_FORMAT must be hls or progressive, got %q", cfg.StreamingFormat)
	}

	if cfg.BufferPollInterval <= 0 || cfg.BufferPollMax <= 0 {
		return nil, fmt.Errorf("buffer poll settings must be positive")
	}
	if cfg.ConnectPollInterval <= 0 || cfg.ConnectPollMax <= 0 {
		return nil, fmt.Errorf("connect poll settings must be positive")
	}

	abs, err := filepath.Abs(cfg.SongsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve songs dir: %w", err)
	}
	cfg.SongsDir = abs

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
