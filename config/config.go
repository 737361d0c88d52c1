// Package config loads kvbusd's configuration from environment
// variables with sensible defaults, the teacher's plain env-var style
// rather than a YAML/viper layer (see DESIGN.md).
package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds kvbusd's runtime configuration.
type Config struct {
	// ListenAddr is the RESP TCP listener address.
	ListenAddr string
	// MetricsAddr is the Prometheus /metrics HTTP listener address.
	MetricsAddr string
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// MirrorRedisAddr, when non-empty, activates the Redis mirror bridge
	// that republishes PUBLISH traffic onto a real Redis instance.
	MirrorRedisAddr string
	// WSBridgeAddr, when non-empty, activates the WebSocket debug bridge.
	WSBridgeAddr string
	// SnapshotPath, when non-empty, activates the periodic SQLite
	// key/value snapshot exporter.
	SnapshotPath string
	// SnapshotIntervalSeconds controls how often the snapshot exporter
	// runs, if enabled.
	SnapshotIntervalSeconds int
}

// Load reads configuration from environment variables with defaults
// sized for local development.
func Load() *Config {
	return &Config{
		ListenAddr:  getEnv("KVBUS_LISTEN_ADDR", ":6380"),
		MetricsAddr: getEnv("KVBUS_METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("KVBUS_LOG_LEVEL", "info"),

		MirrorRedisAddr:         getEnv("KVBUS_MIRROR_REDIS_ADDR", ""),
		WSBridgeAddr:            getEnv("KVBUS_WS_BRIDGE_ADDR", ""),
		SnapshotPath:            getEnv("KVBUS_SNAPSHOT_PATH", ""),
		SnapshotIntervalSeconds: getEnvInt("KVBUS_SNAPSHOT_INTERVAL_SECONDS", 30),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] skipping invalid value for %s: %q", key, v)
		return fallback
	}
	return n
}
