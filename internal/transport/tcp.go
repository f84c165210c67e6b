package transport

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	scanerr "pathscan/internal/errors"
)

// TCPTransport probes a port with a full handshake followed by an echo
// of the payload over the stream.
type TCPTransport struct {
	endpoint
}

// Connect opens a non-blocking stream socket and completes the
// handshake within the timeout budget.
func (t *TCPTransport) Connect(port int) error {
	if err := t.resolve(); err != nil {
		return err
	}
	t.Close()
	t.port = port

	family, sa := t.sockaddr(port)
	fd, err := newSocket(family, unix.SOCK_STREAM)
	if err != nil {
		return scanerr.NewScanError(scanerr.CodeHandshakeConnectionInitiationFailure, err)
	}
	t.fd = fd
	t.log.Debug("connecting to %s", t.addr())

	err = unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if !inProgress(err) {
		return scanerr.NewScanError(scanerr.CodeHandshakeConnectionRefused, err)
	}

	step := func(revents int16) (bool, error) {
		if revents == 0 {
			return false, nil
		}
		if revents&pollErrMask != 0 {
			return false, scanerr.NewScanError(scanerr.CodeHandshakeConnectionRefused, sockError(fd))
		}
		err := unix.Connect(fd, sa)
		switch {
		case err == nil, errors.Is(err, unix.EISCONN):
			return true, nil
		case inProgress(err):
			return false, nil
		default:
			return false, scanerr.NewScanError(scanerr.CodeHandshakeConnectionRefused, err)
		}
	}

	st, err := drive(fd, unix.POLLIN|unix.POLLOUT, t.deadline(), step, nil)
	switch st {
	case stateReady:
		return nil
	case stateTimedOut:
		return scanerr.NewScanError(scanerr.CodeHandshakeConnectionTimeOut,
			fmt.Errorf("%w: no handshake from %s within %v", scanerr.ErrTimeout, t.addr(), t.opts.Timeout))
	default:
		return failure(err, scanerr.CodeHandshakeConnectionCompletionFailure)
	}
}

// Send writes the payload in full within the timeout budget.
func (t *TCPTransport) Send(payload []byte) error {
	if t.fd < 0 {
		return scanerr.NewScanError(scanerr.CodeFailureOnPayloadSend, scanerr.ErrNotConnected)
	}
	t.payload = append(t.payload[:0], payload...)

	off := 0
	step := func(int16) (bool, error) {
		for off < len(payload) {
			n, err := unix.Write(t.fd, payload[off:])
			if err != nil {
				if wouldBlock(err) {
					return false, nil
				}
				return false, scanerr.NewScanError(scanerr.CodeFailureOnPayloadSend, err)
			}
			if n <= 0 {
				return false, nil
			}
			off += n
			t.opts.Metrics.BytesSent(int64(n))
		}
		return true, nil
	}

	st, err := drive(t.fd, unix.POLLOUT, t.deadline(), step, nil)
	switch st {
	case stateReady:
		return nil
	case stateTimedOut:
		return scanerr.NewScanError(scanerr.CodeFailureOnPayloadSend,
			fmt.Errorf("%w: %d of %d bytes written within %v", scanerr.ErrTimeout, off, len(payload), t.opts.Timeout))
	default:
		return failure(err, scanerr.CodeFailureOnPayloadSend)
	}
}

// Receive reads the echo until the payload length is reached.
func (t *TCPTransport) Receive() ([]byte, error) {
	return t.readEcho(true, t.deadline(), nil)
}

func inProgress(err error) bool {
	return errors.Is(err, unix.EINPROGRESS) || errors.Is(err, unix.EALREADY) || errors.Is(err, unix.EINTR)
}
