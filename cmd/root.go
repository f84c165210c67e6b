// Package cmd wires up the CLI flags and runs the scan.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"pathscan/config"
	"pathscan/internal/core"
	"pathscan/internal/metrics"
	"pathscan/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X pathscan/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// streams is where a run reads and writes.
type streams struct {
	out    io.Writer // progress and summary
	errOut io.Writer // logs and usage
	prompt util.Prompter
}

// Execute parses args and runs the scan.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, streams{out: os.Stdout, errOut: os.Stderr, prompt: util.StdPrompter()})
}

func execute(ctx context.Context, args []string, st streams) error {
	// ── config file, then environment ────────────────────────────
	configPath := preParse(args)
	if configPath == "" {
		configPath = os.Getenv("PATHSCAN_CONFIG")
	}
	cfg := config.Default()
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	// ── flags, defaulting to what the file and env produced ──────
	fs := flag.NewFlagSet("pathscan", flag.ContinueOnError)
	fs.SetOutput(st.errOut)

	// command server
	fs.StringVarP(&cfg.CommandServer, "command-server", "s", cfg.CommandServer, "Command server host[:port] or URL")
	fs.StringVarP(&cfg.Username, "username", "n", cfg.Username, "Command server username")
	fs.StringVarP(&cfg.Password, "password", "p", cfg.Password, "Command server password")
	fs.BoolVar(&cfg.PromptPassword, "password-prompt", cfg.PromptPassword, "Prompt for the command server password")
	fs.StringVarP(&cfg.Tag, "tag", "g", cfg.Tag, "Tag recorded with the scan")
	fs.IntVar(&cfg.StartAttempts, "start-attempts", cfg.StartAttempts, "Attempts to reach the command server before giving up")
	fs.BoolVar(&cfg.VerifyCredentials, "verify-credentials", cfg.VerifyCredentials, "Check the credentials with the command server")

	// scan
	fs.StringVarP(&cfg.TCPSpec, "tcp", "t", cfg.TCPSpec, "TCP ports, e.g. 22,80,8000-8080")
	fs.StringVarP(&cfg.UDPSpec, "udp", "u", cfg.UDPSpec, "UDP ports, e.g. 53,123")
	timeoutMS := int(cfg.Timeout.Milliseconds())
	fs.IntVarP(&timeoutMS, "timeout", "i", timeoutMS, "Per-operation timeout in milliseconds")
	tickMS := int(cfg.TickInterval.Milliseconds())
	fs.IntVar(&tickMS, "tick", tickMS, "Progress tick interval in milliseconds (0 disables)")
	fs.BoolVarP(&cfg.NoDNS, "no-dns", "N", cfg.NoDNS, "Numeric-only, no DNS resolution")

	// SSH tunnel
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the command server via SSH [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// output
	fs.StringVarP(&cfg.Format, "format", "o", cfg.Format, "Summary format: text, json or yaml")
	fs.StringVarP(&configPath, "config", "c", configPath, "YAML config file")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate and print the plan without scanning")
	baseVerbose := cfg.Verbose
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(st.errOut, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(st.errOut, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(st.out, "pathscan %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (ports go in -t and -u)", fs.Arg(0))
	}

	if !fs.Changed("verbose") {
		cfg.Verbose = baseVerbose
	}
	cfg.Timeout = time.Duration(timeoutMS) * time.Millisecond
	cfg.TickInterval = time.Duration(tickMS) * time.Millisecond

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(st.errOut)
	if cfg.ConfigFile != "" {
		logger.Verbose("loaded configuration from %s", cfg.ConfigFile)
	}

	if cfg.PromptPassword && !cfg.DryRun {
		pass, err := st.prompt.Secret(fmt.Sprintf("Password for %s: ", cfg.Username))
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		cfg.Password = string(pass)
	}

	// ── build and run ────────────────────────────────────────────
	mode, err := core.Build(cfg, logger, metrics.New(), st.out)
	if err != nil {
		return err
	}

	err = mode.Run(ctx)
	if errors.Is(err, core.ErrIncomplete) && ctx.Err() != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// preParse finds --config before the real parse so the file can seed
// the flag defaults.  Everything else is ignored here.
func preParse(args []string) string {
	var path string
	var help bool
	fs := flag.NewFlagSet("pathscan", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.StringVarP(&path, "config", "c", "", "")
	fs.BoolVarP(&help, "help", "h", false, "")
	fs.Parse(args) //nolint:errcheck
	return path
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `pathscan – network path scanner v%s

Checks which TCP and UDP ports can leave this network by echoing a
token off a remote echo host allocated by a command server.

Usage:
  pathscan -t <ports> [-u <ports>] [options]

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  pathscan -t 1-1024                                Scan the first 1024 TCP ports
  pathscan -t 80,443 -u 53,123 -s cs.example:8080   Private command server
  pathscan -n alice --password-prompt -t 22         Authenticated scan
  pathscan -T ops@bastion -t 80 -o json             Command server via SSH
  pathscan -c scan.yaml --dry-run                   Check a config file
`)
}
