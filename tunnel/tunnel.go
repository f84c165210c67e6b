// Package tunnel carries command-server traffic through an SSH gateway
// when the command server is not directly reachable.  Echo probes never
// use it.
package tunnel

import (
	"context"
	"net"
)

// Tunnel forwards TCP connections through an encrypted channel.
type Tunnel interface {
	Connect(ctx context.Context) error
	Dial(ctx context.Context, network, address string) (net.Conn, error)
	Close() error

	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}
