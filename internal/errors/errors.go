// Package errors provides domain-specific error types for pathscan.
//
// Probe failures are data, not exceptions: each one carries a result
// [Code] that ends up in the session's result map.  The remaining types
// carry structured context (operation, address, retryability) for the
// command-server and configuration layers.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrTunnelClosed    = errors.New("tunnel is closed")
	ErrNotConnected    = errors.New("not connected")
	ErrTimeout         = errors.New("operation timed out")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// ── Scan errors ──────────────────────────────────────────────────────

// ScanError is a typed probe failure.  Transports and the echo protocol
// return it; only the scan orchestrator decides whether it is fatal.
type ScanError struct {
	Code Code
	Err  error // underlying cause, may be nil
}

// NewScanError returns a ScanError for code with an optional cause.
func NewScanError(code Code, cause error) *ScanError {
	return &ScanError{Code: code, Err: cause}
}

func (e *ScanError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Code.Description(), e.Code)
	}
	return fmt.Sprintf("%s (%s): %v", e.Code.Description(), e.Code, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Is matches another *ScanError with the same code, so callers can write
// errors.Is(err, &ScanError{Code: CodePayloadMismatchOnRecv}).
func (e *ScanError) Is(target error) bool {
	t, ok := target.(*ScanError)
	return ok && t.Code == e.Code
}

// CodeOf extracts the result code from err.  ok is false when err does
// not wrap a *ScanError.
func CodeOf(err error) (code Code, ok bool) {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure talking to the command server.
type NetworkError struct {
	Op        string // "start", "skip", "stop", "update", "identify"
	Addr      string // command server address
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // flag name
	Value   interface{} // the invalid value (nil if missing)
	Message string
	Hint    string // optional suggestion for the user
	Err     error  // optional cause
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, detecting retryability from err.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// classifyRetryable treats dial failures and timeouts as transient: the
// command server may simply not be up yet.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Timeout()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}
