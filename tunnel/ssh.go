package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	scanerr "pathscan/internal/errors"
	"pathscan/util"
)

const (
	DefaultPort        = 22
	DefaultConnTimeout = 30 * time.Second
)

// SSHConfig describes the SSH gateway in front of the command server.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
	// KeepAlive, when positive, probes the gateway at this interval and
	// drops the connection once a probe fails.
	KeepAlive time.Duration

	// Prompter reads passwords and key passphrases.  Defaults to the
	// terminal.
	Prompter util.Prompter
}

// Addr is the gateway's host:port.
func (c *SSHConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *SSHConfig) prompter() util.Prompter {
	if c.Prompter == nil {
		return util.StdPrompter()
	}
	return c.Prompter
}

// SSHTunnel implements [Tunnel] with an ssh.Client.
type SSHTunnel struct {
	config *SSHConfig
	client *ssh.Client
	logger *util.Logger
	mu     sync.RWMutex
	alive  bool
	done   chan struct{}
}

var _ Tunnel = (*SSHTunnel)(nil)

// NewSSHTunnel returns an unconnected tunnel.  Zero Port and
// ConnTimeout take their defaults.
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = DefaultConnTimeout
	}
	if logger == nil {
		logger = util.Discard()
	}
	return &SSHTunnel{config: cfg, logger: logger.With("tunnel")}
}

// Connect dials the gateway and completes the SSH handshake.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	auth, err := BuildAuthMethods(t.config)
	if err != nil {
		return scanerr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}
	hostKey, err := hostKeyCallback(t.config)
	if err != nil {
		return scanerr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	addr := t.config.Addr()
	t.logger.Debug("dialing %s as %s", addr, t.config.User)

	dialCtx, cancel := context.WithTimeout(ctx, t.config.ConnTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return scanerr.Wrap("tunnel", addr, err)
	}

	// The handshake itself is bounded by the connection deadline.
	conn.SetDeadline(time.Now().Add(t.config.ConnTimeout)) //nolint:errcheck
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         t.config.ConnTimeout,
	})
	if err != nil {
		conn.Close()
		op := "handshake"
		if errors.Is(err, scanerr.ErrHostKeyMismatch) {
			op = "hostkey"
		}
		return scanerr.WrapSSH(op, t.config.Host, t.config.Port, err)
	}
	conn.SetDeadline(time.Time{}) //nolint:errcheck

	client := ssh.NewClient(sshConn, chans, reqs)
	done := make(chan struct{})
	t.mu.Lock()
	if t.done != nil {
		close(t.done)
	}
	t.client = client
	t.alive = true
	t.done = done
	t.mu.Unlock()

	go t.monitor(client)
	if t.config.KeepAlive > 0 {
		go t.keepalive(client, done)
	}
	return nil
}

// Dial opens a forwarded connection to address.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client, alive := t.client, t.alive
	t.mu.RUnlock()

	if !alive || client == nil {
		return nil, scanerr.ErrTunnelClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.logger.Debug("forwarding %s %s", network, address)
	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", address, err)
	}
	return conn, nil
}

// Close shuts the gateway connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// monitor marks the tunnel dead once the gateway hangs up.
func (t *SSHTunnel) monitor(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Verbose("gateway connection closed: %v", err)
	} else {
		t.logger.Verbose("gateway connection closed")
	}
}

func (t *SSHTunnel) keepalive(client *ssh.Client, done <-chan struct{}) {
	tick := time.NewTicker(t.config.KeepAlive)
	defer tick.Stop()

	for {
		select {
		case <-done:
			return
		case <-tick.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("keepalive to %s failed: %v", t.config.Addr(), err)
				client.Close()
				return
			}
			t.logger.Debug("keepalive ok")
		}
	}
}
