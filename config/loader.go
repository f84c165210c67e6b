package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the PATHSCAN_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations are in
// milliseconds, matching the flags.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  Call it after LoadFile and
// before CLI flag parsing.
func LoadFromEnv(cfg *Config) {
	// Command server
	if v := os.Getenv("PATHSCAN_COMMAND_SERVER"); v != "" {
		cfg.CommandServer = v
	}
	if v := os.Getenv("PATHSCAN_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("PATHSCAN_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("PATHSCAN_TAG"); v != "" {
		cfg.Tag = v
	}
	if v := envInt("PATHSCAN_START_ATTEMPTS"); v > 0 {
		cfg.StartAttempts = v
	}

	// Scan
	if v := os.Getenv("PATHSCAN_TCP"); v != "" {
		cfg.TCPSpec = v
	}
	if v := os.Getenv("PATHSCAN_UDP"); v != "" {
		cfg.UDPSpec = v
	}
	if v := envInt("PATHSCAN_TIMEOUT"); v > 0 {
		cfg.Timeout = millis(v)
	}
	if v, ok := envIntSet("PATHSCAN_TICK"); ok && v >= 0 {
		cfg.TickInterval = millis(v)
	}
	if envBool("PATHSCAN_NO_DNS") {
		cfg.NoDNS = true
	}

	// SSH tunnel
	if v := os.Getenv("PATHSCAN_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("PATHSCAN_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("PATHSCAN_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("PATHSCAN_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("PATHSCAN_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("PATHSCAN_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("PATHSCAN_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if v := os.Getenv("PATHSCAN_FORMAT"); v != "" {
		cfg.Format = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	n, _ := envIntSet(key)
	return n
}

// envIntSet distinguishes an explicit 0 from an unset variable.
func envIntSet(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
