package transport

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	scanerr "pathscan/internal/errors"
)

// opState is the state of one bounded socket operation.
type opState int

const (
	statePending opState = iota
	stateReady
	stateTimedOut
	stateFailed
)

func (s opState) String() string {
	switch s {
	case statePending:
		return "PENDING"
	case stateReady:
		return "READY"
	case stateTimedOut:
		return "TIMED_OUT"
	case stateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

const pollErrMask = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL

// pollError marks a failure of the readiness wait itself, as opposed to
// a failure of the socket operation being driven.
type pollError struct{ err error }

func (e *pollError) Error() string { return "poll: " + e.err.Error() }
func (e *pollError) Unwrap() error { return e.err }

// awaitFd blocks until fd reports one of events or deadline passes.
// EINTR and EAGAIN from poll are retried against the same deadline.
func awaitFd(fd int, events int16, deadline time.Time) (opState, int16, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return stateTimedOut, 0, nil
		}
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)

		fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return stateFailed, 0, &pollError{err: err}
		}
		if n > 0 && fds[0].Revents != 0 {
			return stateReady, fds[0].Revents, nil
		}
	}
}

// checkpoint runs fn once when a wait inside drive reaches at.
type checkpoint struct {
	at    time.Time
	fn    func()
	fired bool
}

// drive runs step until it reports done, fails, or deadline passes.
// step is first called with zero revents, then once per readiness
// event on fd.  It returns (false, nil) when the socket would block.
//
// A failure from step is returned as is; a failure of the wait itself
// is returned as a *pollError.
func drive(fd int, events int16, deadline time.Time, step func(revents int16) (bool, error), cp *checkpoint) (opState, error) {
	var revents int16
	for {
		done, err := step(revents)
		if err != nil {
			return stateFailed, err
		}
		if done {
			return stateReady, nil
		}

		until := deadline
		if cp != nil && !cp.fired && cp.at.Before(deadline) {
			until = cp.at
		}

		var st opState
		st, revents, err = awaitFd(fd, events, until)
		switch st {
		case stateFailed:
			return stateFailed, err
		case stateTimedOut:
			if until.Equal(deadline) {
				return stateTimedOut, nil
			}
			cp.fired = true
			cp.fn()
		}
	}
}

// wouldBlock reports whether a non-blocking call should be retried
// after a readiness wait.
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// failure converts a drive error into a scan error, mapping poll
// failures to pollCode.
func failure(err error, pollCode scanerr.Code) error {
	var pe *pollError
	if errors.As(err, &pe) {
		return scanerr.NewScanError(pollCode, pe.err)
	}
	return err
}
