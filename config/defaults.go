package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultCommandServer is the public command server.
	DefaultCommandServer = "scanme.firebind.com"

	// DefaultTimeout bounds each connect, send and receive of a probe.
	DefaultTimeout = 5000 * time.Millisecond

	// DefaultTickInterval is how often progress dots are printed while
	// a probe is in flight.
	DefaultTickInterval = time.Second

	// DefaultStartAttempts is how many times an unreachable command
	// server is tried before the scan gives up.
	DefaultStartAttempts = 3

	// DefaultFormat is the summary format.
	DefaultFormat = "text"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHKeepAlive is the SSH gateway keepalive interval.
	DefaultSSHKeepAlive = 30 * time.Second

	// DefaultServerTimeout bounds one HTTP exchange with the command
	// server.
	DefaultServerTimeout = 15 * time.Second

	// DefaultCallTimeout bounds the best-effort skip, stop and update
	// calls, which still go out after the scan is cancelled.
	DefaultCallTimeout = 10 * time.Second
)
