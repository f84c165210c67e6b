// Package metrics provides lightweight, lock-free counters for tracking
// the runtime statistics of a pathscan run: probes, their outcomes,
// echo traffic and command-server trouble.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one pathscan process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	probesTotal     atomic.Int64
	portsOpen       atomic.Int64
	portsClosed     atomic.Int64
	bytesIn         atomic.Int64
	bytesOut        atomic.Int64
	datagramResends atomic.Int64
	serverCalls     atomic.Int64
	skipsHeld       atomic.Int64
	skipGateTrips   atomic.Int64
	errorsTotal     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastProbe    time.Duration
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Probe metrics ────────────────────────────────────────────────────

// ProbeCompleted records the outcome and duration of one port probe.
func (c *Collector) ProbeCompleted(open bool, took time.Duration) {
	if c == nil {
		return
	}
	c.probesTotal.Add(1)
	if open {
		c.portsOpen.Add(1)
	} else {
		c.portsClosed.Add(1)
	}
	c.mu.Lock()
	c.lastProbe = took
	c.mu.Unlock()
}

// Probes returns the number of completed probes.
func (c *Collector) Probes() int64 {
	if c == nil {
		return 0
	}
	return c.probesTotal.Load()
}

// OpenPorts returns the number of probes that echoed successfully.
func (c *Collector) OpenPorts() int64 {
	if c == nil {
		return 0
	}
	return c.portsOpen.Load()
}

// ClosedPorts returns the number of probes that failed.
func (c *Collector) ClosedPorts() int64 {
	if c == nil {
		return 0
	}
	return c.portsClosed.Load()
}

// ── Echo traffic ─────────────────────────────────────────────────────

// BytesReceived records n echo bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n echo bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total echo bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total echo bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// DatagramResend records a mid-receive remedial UDP retransmission.
func (c *Collector) DatagramResend() {
	if c == nil {
		return
	}
	c.datagramResends.Add(1)
}

// DatagramResends returns the number of remedial retransmissions.
func (c *Collector) DatagramResends() int64 {
	if c == nil {
		return 0
	}
	return c.datagramResends.Load()
}

// ── Command server ───────────────────────────────────────────────────

// ServerCall records one command-server request.
func (c *Collector) ServerCall() {
	if c == nil {
		return
	}
	c.serverCalls.Add(1)
}

// ServerCalls returns the number of command-server requests made.
func (c *Collector) ServerCalls() int64 {
	if c == nil {
		return 0
	}
	return c.serverCalls.Load()
}

// SkipHeld records a skip notification not sent because the command
// server kept failing them.
func (c *Collector) SkipHeld() {
	if c == nil {
		return
	}
	c.skipsHeld.Add(1)
}

// SkipsHeld returns the number of skip notifications held back.
func (c *Collector) SkipsHeld() int64 {
	if c == nil {
		return 0
	}
	return c.skipsHeld.Load()
}

// SkipGateTripped records the skip path giving up on the server.
func (c *Collector) SkipGateTripped() {
	if c == nil {
		return
	}
	c.skipGateTrips.Add(1)
}

// SkipGateTrips returns how often the skip path gave up on the server.
func (c *Collector) SkipGateTrips() int64 {
	if c == nil {
		return 0
	}
	return c.skipGateTrips.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	Probes           int64  `json:"probes"`
	PortsOpen        int64  `json:"ports_open"`
	PortsClosed      int64  `json:"ports_closed"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	DatagramResends  int64  `json:"datagram_resends"`
	ServerCalls      int64  `json:"server_calls"`
	SkipsHeld        int64  `json:"skips_held"`
	SkipGateTrips    int64  `json:"skip_gate_trips"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastProbe        string `json:"last_probe,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		Probes:          c.probesTotal.Load(),
		PortsOpen:       c.portsOpen.Load(),
		PortsClosed:     c.portsClosed.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		DatagramResends: c.datagramResends.Load(),
		ServerCalls:     c.serverCalls.Load(),
		SkipsHeld:       c.skipsHeld.Load(),
		SkipGateTrips:   c.skipGateTrips.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if c.probesTotal.Load() > 0 {
		s.LastProbe = c.lastProbe.Round(time.Millisecond).String()
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
