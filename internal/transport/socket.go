package transport

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"

	scanerr "pathscan/internal/errors"
)

// readChunk is the size of each non-blocking read.
const readChunk = 1024

// newSocket opens a close-on-exec, non-blocking socket.
func newSocket(family, typ int) (int, error) {
	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set non-blocking: %w", err)
	}
	return fd, nil
}

// sockError returns the pending SO_ERROR on fd, or a generic error if
// none is recorded.
func sockError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return unix.ECONNREFUSED
}

// readEcho reads back the last payload within one timeout budget and
// verifies it byte for byte.  stream selects TCP end-of-stream handling;
// datagram sockets ignore empty reads.  cp, if set, fires mid-wait.
func (e *endpoint) readEcho(stream bool, deadline time.Time, cp *checkpoint) ([]byte, error) {
	if e.fd < 0 {
		return nil, scanerr.NewScanError(scanerr.CodePayloadRefusedOnRecv, scanerr.ErrNotConnected)
	}
	want := e.payload
	if len(want) == 0 {
		return nil, scanerr.NewScanError(scanerr.CodePayloadErrorOnRecv, fmt.Errorf("nothing sent"))
	}

	got := make([]byte, 0, len(want))
	chunk := make([]byte, readChunk)

	step := func(int16) (bool, error) {
		for len(got) < len(want) {
			buf := chunk
			if stream && len(want)-len(got) < len(buf) {
				buf = chunk[:len(want)-len(got)]
			}
			n, err := unix.Read(e.fd, buf)
			if err != nil {
				if wouldBlock(err) {
					return false, nil
				}
				return false, scanerr.NewScanError(scanerr.CodePayloadRefusedOnRecv, err)
			}
			if n <= 0 {
				if stream {
					return false, scanerr.NewScanError(scanerr.CodePayloadErrorOnRecv,
						fmt.Errorf("%w after %d of %d bytes", io.ErrUnexpectedEOF, len(got), len(want)))
				}
				continue
			}
			got = append(got, buf[:n]...)
			e.opts.Metrics.BytesReceived(int64(n))
		}
		return true, nil
	}

	st, err := drive(e.fd, unix.POLLIN, deadline, step, cp)
	switch st {
	case stateTimedOut:
		return nil, scanerr.NewScanError(scanerr.CodePayloadTimedOutOnRecv,
			fmt.Errorf("%w: %d of %d bytes from %s within %v", scanerr.ErrTimeout, len(got), len(want), e.addr(), e.opts.Timeout))
	case stateFailed:
		return nil, failure(err, scanerr.CodePayloadRefusedOnRecv)
	}

	if !bytes.Equal(got, want) {
		return nil, scanerr.NewScanError(scanerr.CodePayloadMismatchOnRecv,
			fmt.Errorf("got %x, want %x", got, want))
	}
	return got, nil
}
