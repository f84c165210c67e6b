package core

import (
	"fmt"
	"io"
	"net"
	"time"

	"pathscan/config"
	"pathscan/internal/commandserver"
	"pathscan/internal/metrics"
	"pathscan/internal/protocol"
	"pathscan/internal/report"
	"pathscan/internal/transport"
	"pathscan/tunnel"
	"pathscan/util"
)

// Build constructs the scan mode for a validated configuration.
// Progress and the summary go to out.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector, out io.Writer) (Mode, error) {
	if logger == nil {
		logger = util.Discard()
	}
	format, err := report.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	client, err := commandserver.New(commandserver.Options{
		Address: cfg.CommandServer,
		Credentials: commandserver.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Tag:           cfg.Tag,
		Timeout:       config.DefaultServerTimeout,
		StartAttempts: cfg.StartAttempts,
		Dialer:        buildDialer(cfg, logger),
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return nil, fmt.Errorf("command server: %w", err)
	}

	// Through a tunnel the gateway resolves the name, not us.
	if cfg.NoDNS && !cfg.TunnelEnabled && net.ParseIP(client.Host()) == nil {
		client.Close()
		return nil, fmt.Errorf(
			"cannot parse %q as an IP address (DNS disabled with -N)", client.Host())
	}

	var tun string
	if cfg.TunnelEnabled {
		tun = fmt.Sprintf("%s@%s:%d", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}

	return &ScanMode{
		Server:            client,
		NewProber:         proberFactory(cfg, logger, m),
		Scans:             cfg.Ports(),
		Address:           cfg.CommandServer,
		Timeout:           cfg.Timeout,
		TickInterval:      cfg.TickInterval,
		CallTimeout:       config.DefaultCallTimeout,
		Format:            format,
		VerifyCredentials: cfg.VerifyCredentials,
		DryRun:            cfg.DryRun,
		Tunnel:            tun,
		Out:               out,
		Logger:            logger,
		Metrics:           m,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer picks how the command server is reached.  Echo probes
// always leave directly from this host.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			KeepAlive:     config.DefaultSSHKeepAlive,
		}, logger)
	}
	return &transport.TCPDialer{
		Timeout:   config.DefaultServerTimeout,
		KeepAlive: 30 * time.Second,
	}
}

// proberFactory returns, per transport kind, the factory that binds an
// echo prober to the session the command server allocated.
func proberFactory(cfg *config.Config, logger *util.Logger, m *metrics.Collector) func(transport.Kind) ProberFactory {
	return func(kind transport.Kind) ProberFactory {
		return func(sessionID uint64, echoHost string) Prober {
			t := transport.New(kind, transport.Options{
				Host:    echoHost,
				Timeout: cfg.Timeout,
				NoDNS:   cfg.NoDNS,
				Logger:  logger,
				Metrics: m,
			})
			return protocol.NewEcho(sessionID, t, logger.With("echo"))
		}
	}
}
