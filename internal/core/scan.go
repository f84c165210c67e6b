package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pathscan/config"
	scanerr "pathscan/internal/errors"
	"pathscan/internal/metrics"
	"pathscan/internal/report"
	"pathscan/internal/session"
	"pathscan/internal/transport"
	"pathscan/util"
)

// ErrIncomplete is returned when a session did not complete.  The
// details have already gone to the console or the structured output.
var ErrIncomplete = errors.New("scan incomplete")

// Server is the command server as ScanMode uses it.
type Server interface {
	CommandServer
	Identify(ctx context.Context) error
	Close() error
}

// ScanMode runs one session per requested transport, TCP first, then
// prints the summary.
type ScanMode struct {
	Server Server
	// NewProber returns the prober factory for one transport.
	NewProber func(kind transport.Kind) ProberFactory
	Scans     []config.ScanPorts

	Address      string
	Timeout      time.Duration
	TickInterval time.Duration
	CallTimeout  time.Duration
	Format       report.Format

	VerifyCredentials bool
	DryRun            bool
	// Tunnel, when set, is shown in the dry-run plan.
	Tunnel string

	Out     io.Writer
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Run executes the scans.  Cancelling ctx stops the session in flight
// and skips the rest; the summary still covers what ran.
func (m *ScanMode) Run(ctx context.Context) error {
	defer m.Server.Close()
	if m.Logger == nil {
		m.Logger = util.Discard()
	}

	if m.DryRun {
		m.plan()
		return nil
	}

	if m.VerifyCredentials {
		if err := m.Server.Identify(ctx); err != nil {
			return fmt.Errorf("verify credentials: %w", err)
		}
		fmt.Fprintf(m.Out, "Credentials accepted by %s\n", m.Address)
	}

	var views []session.View
	for i, scan := range m.Scans {
		if ctx.Err() != nil {
			m.Logger.Verbose("interrupted, skipping %s scan", scan.Kind)
			break
		}
		if i > 0 && m.Format == report.FormatText {
			fmt.Fprintln(m.Out)
		}
		views = append(views, m.runOne(ctx, scan))
	}

	if err := report.Write(m.Out, m.Format, views...); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	m.Logger.Debug("metrics: %s", m.Metrics.JSON())

	return incomplete(views)
}

func (m *ScanMode) runOne(ctx context.Context, scan config.ScanPorts) session.View {
	m.Logger.Verbose("performing scan on %s %s via %s", scan.Kind, scan.Ports, m.Address)

	o := NewOrchestrator(OrchestratorConfig{
		Server:       m.Server,
		NewProber:    m.NewProber(scan.Kind),
		Ports:        scan.Ports,
		Kind:         scan.Kind,
		Timeout:      m.Timeout,
		Address:      m.Address,
		TickInterval: m.TickInterval,
		CallTimeout:  m.CallTimeout,
		Logger:       m.Logger,
		Metrics:      m.Metrics,
	})
	if m.Format == report.FormatText {
		o.AddObserver(report.NewConsole(m.Out))
	}

	v := o.Run(ctx)
	m.Logger.Debug("%s", v)
	return v
}

// plan prints what a real run would do.
func (m *ScanMode) plan() {
	fmt.Fprintf(m.Out, "Command server: %s\n", m.Address)
	if m.Tunnel != "" {
		fmt.Fprintf(m.Out, "SSH tunnel:     %s\n", m.Tunnel)
	}
	if m.VerifyCredentials {
		fmt.Fprintln(m.Out, "Would verify credentials")
	}
	for _, scan := range m.Scans {
		fmt.Fprintf(m.Out, "Would perform ECHO scan on %s ports %s with %dms timeout\n",
			scan.Kind, scan.Ports, m.Timeout.Milliseconds())
	}
}

// incomplete reports the first session that did not complete.
func incomplete(views []session.View) error {
	for _, v := range views {
		switch v.State() {
		case session.Complete:
			continue
		case session.StartFailure:
			return fmt.Errorf("%w: %s: %s", ErrIncomplete, v.Transport(), report.StartFailureText(v))
		case session.Error:
			return fmt.Errorf("%w: %s: %s", ErrIncomplete, v.Transport(), scanerr.Code(v.StatusCode()).Description())
		default:
			return fmt.Errorf("%w: %s stopped after %d of %d ports",
				ErrIncomplete, v.Transport(), v.PortsScanned(), v.Ports().Size())
		}
	}
	return nil
}
