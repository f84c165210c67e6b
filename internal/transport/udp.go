package transport

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	scanerr "pathscan/internal/errors"
)

const (
	// DefaultCopies is how many datagrams a UDP Send emits.
	DefaultCopies = 10
	// RemedialCopies is how many datagrams the mid-receive resend emits.
	RemedialCopies = 5
	// RemedialPoint is the fraction of the receive budget after which
	// the payload is sent again.
	RemedialPoint = 0.5
)

// UDPTransport probes a port by sending redundant copies of the payload
// and waiting for any one of them to be echoed.
type UDPTransport struct {
	endpoint
}

// Connect opens a datagram socket fixed to port on the echo host.
// There is no handshake, so failures here are reported as send
// failures.
func (u *UDPTransport) Connect(port int) error {
	if err := u.resolve(); err != nil {
		return err
	}
	u.Close()
	u.port = port

	family, sa := u.sockaddr(port)
	fd, err := newSocket(family, unix.SOCK_DGRAM)
	if err != nil {
		return scanerr.NewScanError(scanerr.CodeFailureOnPayloadSend, err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return scanerr.NewScanError(scanerr.CodeFailureOnPayloadSend, fmt.Errorf("connect: %w", err))
	}
	u.fd = fd
	u.log.Debug("bound to %s", u.addr())
	return nil
}

// Send emits the configured number of copies of payload.
func (u *UDPTransport) Send(payload []byte) error {
	return u.SendCopies(payload, u.opts.Copies)
}

// SendCopies emits up to copies datagrams of payload while the timeout
// budget lasts.  At least one full copy must leave for it to succeed.
func (u *UDPTransport) SendCopies(payload []byte, copies int) error {
	if u.fd < 0 {
		return scanerr.NewScanError(scanerr.CodeFailureOnPayloadSend, scanerr.ErrNotConnected)
	}
	u.payload = append(u.payload[:0], payload...)
	return u.sendCopies(copies, u.deadline())
}

func (u *UDPTransport) sendCopies(copies int, deadline time.Time) error {
	payload := u.payload
	sent, off := 0, 0

	step := func(int16) (bool, error) {
		for sent < copies {
			n, err := unix.Write(u.fd, payload[off:])
			if err != nil {
				if wouldBlock(err) {
					return false, nil
				}
				if sent > 0 {
					u.log.Debug("stopped after %d of %d copies: %v", sent, copies, err)
					return true, nil
				}
				return false, scanerr.NewScanError(scanerr.CodeFailureOnPayloadSend, err)
			}
			if n <= 0 {
				return false, nil
			}
			u.opts.Metrics.BytesSent(int64(n))
			off += n
			if off >= len(payload) {
				off = 0
				sent++
			}
		}
		return true, nil
	}

	st, err := drive(u.fd, unix.POLLOUT, deadline, step, nil)
	switch {
	case st == stateReady:
		return nil
	case st == stateTimedOut && sent > 0:
		u.log.Debug("budget spent after %d of %d copies", sent, copies)
		return nil
	case st == stateTimedOut:
		return scanerr.NewScanError(scanerr.CodeFailureOnPayloadSend,
			fmt.Errorf("%w: no datagram sent to %s within %v", scanerr.ErrTimeout, u.addr(), u.opts.Timeout))
	default:
		return failure(err, scanerr.CodeFailureOnPayloadSend)
	}
}

// Receive waits for an echo of the payload.  Once RemedialPoint of the
// budget has passed without one, RemedialCopies more datagrams are sent.
// A failure of that resend is logged and otherwise ignored.
func (u *UDPTransport) Receive() ([]byte, error) {
	start := time.Now()
	deadline := start.Add(u.opts.Timeout)
	cp := &checkpoint{
		at: start.Add(time.Duration(float64(u.opts.Timeout) * RemedialPoint)),
		fn: func() {
			u.opts.Metrics.DatagramResend()
			u.log.Verbose("no echo from %s yet, resending %d copies", u.addr(), RemedialCopies)
			if err := u.sendCopies(RemedialCopies, deadline); err != nil {
				u.log.Verbose("resend to %s failed: %v", u.addr(), err)
			}
		},
	}
	return u.readEcho(false, deadline, cp)
}
