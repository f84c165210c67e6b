// Package transport carries echo probes to an echo host and provides
// the dialers used to reach the command server.
//
// Echo transports own one raw non-blocking socket per probe and bound
// every operation (connect, send, receive) by a fixed timeout budget
// measured from the start of that operation.  Failures are reported as
// *errors.ScanError values carrying the result code the session records
// for the port.
package transport

import (
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	scanerr "pathscan/internal/errors"
	"pathscan/internal/metrics"
	"pathscan/util"
)

// Transport is the per-probe capability used by the echo protocol.
// A Transport is not safe for concurrent use; one probe owns it at a
// time.
type Transport interface {
	// Connect binds the transport to port on the echo host.
	Connect(port int) error
	// Send writes payload in full, remembering it for Receive.
	Send(payload []byte) error
	// Receive reads back an echo of the last payload sent.
	Receive() ([]byte, error)
	// Close releases the socket.  Failures are logged, never returned.
	Close()
}

// Kind selects the echo transport.
type Kind int

const (
	TCP Kind = iota
	UDP
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Network returns the Go network name ("tcp" or "udp").
func (k Kind) Network() string { return strings.ToLower(k.String()) }

// ParseKind accepts "tcp" or "udp" in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	}
	return 0, fmt.Errorf("unknown transport %q (want tcp or udp)", s)
}

// Options configures an echo transport.
type Options struct {
	// Host is the echo host, a name or an IP literal.
	Host string
	// Timeout is the budget for each of connect, send and receive.
	Timeout time.Duration
	// NoDNS refuses to resolve Host by name.
	NoDNS bool
	// Copies is how many datagrams a UDP Send emits (default DefaultCopies).
	Copies int

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// New returns an unconnected transport of the given kind.
func New(kind Kind, opts Options) Transport {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = util.Discard()
	}
	ep := endpoint{
		opts: opts,
		log:  opts.Logger.With(kind.Network()),
		fd:   -1,
	}
	if kind == UDP {
		if ep.opts.Copies <= 0 {
			ep.opts.Copies = DefaultCopies
		}
		return &UDPTransport{endpoint: ep}
	}
	return &TCPTransport{endpoint: ep}
}

// ── shared endpoint state ────────────────────────────────────────────

// endpoint holds what TCP and UDP transports have in common: options,
// the resolved echo address, the live socket and the last payload.
type endpoint struct {
	opts    Options
	log     *util.Logger
	ip      net.IP
	fd      int
	port    int
	payload []byte
}

// resolve looks up the echo host once.  Failure here would repeat for
// every port, so it is reported as a client network failure.
func (e *endpoint) resolve() error {
	if e.ip != nil {
		return nil
	}
	ip, err := util.ResolveIP(e.opts.Host, e.opts.NoDNS)
	if err != nil {
		return scanerr.NewScanError(scanerr.CodeClientNetworkFailure, err)
	}
	e.ip = ip
	return nil
}

// sockaddr returns the socket family and address for port.
func (e *endpoint) sockaddr(port int) (int, unix.Sockaddr) {
	if v4 := e.ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], e.ip.To16())
	return unix.AF_INET6, sa
}

func (e *endpoint) addr() string {
	return util.FormatAddr(e.ip.String(), e.port)
}

func (e *endpoint) deadline() time.Time {
	return time.Now().Add(e.opts.Timeout)
}

// Close releases the socket.  It is safe to call more than once.
func (e *endpoint) Close() {
	if e.fd < 0 {
		return
	}
	if err := unix.Close(e.fd); err != nil {
		e.log.Warn("close %s: %v", e.addr(), err)
	}
	e.fd = -1
}
