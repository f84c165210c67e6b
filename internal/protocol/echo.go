// Package protocol implements the per-port echo exchange: connect to
// the port, send the session id, and expect it back verbatim.
package protocol

import (
	"encoding/binary"

	"pathscan/internal/transport"
	"pathscan/util"
)

// PayloadSize is the length of an echo payload.
const PayloadSize = 8

// Payload encodes a session id as the 8-byte big-endian echo payload.
func Payload(id uint64) []byte {
	b := make([]byte, PayloadSize)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// Echo probes ports on the echo host over one transport.
type Echo struct {
	payload   []byte
	transport transport.Transport
	logger    *util.Logger
}

// NewEcho binds the session id to a transport.
func NewEcho(sessionID uint64, t transport.Transport, logger *util.Logger) *Echo {
	if logger == nil {
		logger = util.Discard()
	}
	return &Echo{payload: Payload(sessionID), transport: t, logger: logger}
}

// Echo runs one probe against port.  The transport is closed before
// returning on every path.  Transport errors are returned unchanged.
func (e *Echo) Echo(port int) error {
	defer e.transport.Close()

	if err := e.transport.Connect(port); err != nil {
		return err
	}
	if err := e.transport.Send(e.payload); err != nil {
		return err
	}
	got, err := e.transport.Receive()
	if err != nil {
		return err
	}
	e.logger.Debug("port %d echoed %x", port, got)
	return nil
}
