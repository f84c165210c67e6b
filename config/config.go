// Package config defines the runtime configuration for pathscan and
// the helpers that fill it from a file, the environment and the
// command line.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	scanerr "pathscan/internal/errors"
	"pathscan/internal/portset"
	"pathscan/internal/report"
	"pathscan/internal/transport"
)

// Config holds every tuneable for one pathscan run.
type Config struct {
	// ── Command server ───────────────────────────────────────────────
	CommandServer     string
	Username          string
	Password          string
	PromptPassword    bool
	Tag               string
	StartAttempts     int
	VerifyCredentials bool

	// ── Scan ─────────────────────────────────────────────────────────
	TCPSpec      string // raw -t value
	UDPSpec      string // raw -u value
	TCPPorts     *portset.PortSet
	UDPPorts     *portset.PortSet
	Timeout      time.Duration // per-operation probe budget
	TickInterval time.Duration
	NoDNS        bool

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	Format     string
	ConfigFile string
	DryRun     bool
}

// Default returns a Config holding every default value.
func Default() *Config {
	return &Config{
		CommandServer: DefaultCommandServer,
		StartAttempts: DefaultStartAttempts,
		Timeout:       DefaultTimeout,
		TickInterval:  DefaultTickInterval,
		Format:        DefaultFormat,
	}
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks the configuration and resolves the derived fields:
// port sets from the raw specs and tunnel parts from the tunnel spec.
// Errors are *errors.ConfigError values.
func (c *Config) Validate() error {
	if c.CommandServer == "" {
		return &scanerr.ConfigError{
			Field:   "command-server",
			Message: "is required",
			Hint:    "pass -s host[:port] or set PATHSCAN_COMMAND_SERVER",
		}
	}

	var err error
	if c.TCPPorts, err = parsePorts("tcp", c.TCPSpec); err != nil {
		return err
	}
	if c.UDPPorts, err = parsePorts("udp", c.UDPSpec); err != nil {
		return err
	}
	if c.TCPPorts == nil && c.UDPPorts == nil && !c.VerifyCredentials {
		return &scanerr.ConfigError{
			Field:   "tcp",
			Message: "no ports to scan",
			Hint:    "use -t and/or -u, e.g. -t 80,443 -u 53,123",
		}
	}

	if c.Timeout <= 0 {
		return &scanerr.ConfigError{
			Field: "timeout", Value: c.Timeout.Milliseconds(),
			Message: "must be positive",
			Hint:    "the timeout is in milliseconds, e.g. -i 5000",
		}
	}
	if c.TickInterval < 0 {
		return &scanerr.ConfigError{Field: "tick", Value: c.TickInterval.Milliseconds(), Message: "must not be negative"}
	}
	if c.StartAttempts < 1 {
		return &scanerr.ConfigError{Field: "start-attempts", Value: c.StartAttempts, Message: "must be at least 1"}
	}

	if c.Password != "" && c.PromptPassword {
		return &scanerr.ConfigError{
			Field:   "password-prompt",
			Message: "conflicts with --password",
			Hint:    "pass the password or prompt for it, not both",
		}
	}
	if (c.Password != "" || c.PromptPassword) && c.Username == "" {
		return &scanerr.ConfigError{
			Field:   "username",
			Message: "is required when a password is given",
			Hint:    "add -n <username>",
		}
	}
	if c.VerifyCredentials && c.Username == "" {
		return &scanerr.ConfigError{
			Field:   "verify-credentials",
			Message: "needs credentials to verify",
			Hint:    "add -n <username> and -p <password> or --password-prompt",
		}
	}

	if _, err := report.ParseFormat(c.Format); err != nil {
		return &scanerr.ConfigError{Field: "format", Value: c.Format, Message: "unknown format", Hint: "use text, json or yaml", Err: err}
	}

	if c.TunnelSpec != "" {
		user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
		if err != nil {
			return &scanerr.ConfigError{
				Field: "tunnel", Value: c.TunnelSpec,
				Message: err.Error(),
				Hint:    "e.g. -T admin@bastion.example.com:2222",
				Err:     err,
			}
		}
		c.TunnelEnabled = true
		c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	}
	if c.TunnelEnabled && c.TunnelUser == "" {
		return &scanerr.ConfigError{
			Field: "tunnel", Value: c.TunnelSpec,
			Message: "user is required",
			Hint:    "use -T user@host",
		}
	}
	return nil
}

// Ports reports the scan order: TCP first, then UDP.  Absent sets are
// left out.
func (c *Config) Ports() []ScanPorts {
	var out []ScanPorts
	if c.TCPPorts != nil {
		out = append(out, ScanPorts{Kind: transport.TCP, Ports: c.TCPPorts})
	}
	if c.UDPPorts != nil {
		out = append(out, ScanPorts{Kind: transport.UDP, Ports: c.UDPPorts})
	}
	return out
}

// ScanPorts is the port set requested for one transport.
type ScanPorts struct {
	Kind  transport.Kind
	Ports *portset.PortSet
}

func parsePorts(field, spec string) (*portset.PortSet, error) {
	if spec == "" {
		return nil, nil
	}
	ps, err := portset.Parse(spec)
	if err != nil {
		return nil, &scanerr.ConfigError{
			Field: field, Value: spec,
			Message: err.Error(),
			Hint:    "ports are comma separated numbers or a-b ranges in 1-65535",
			Err:     err,
		}
	}
	return ps, nil
}
