package provider

import (
	"context"
	"io"
	"net"
	"strings"
)

// SchemeTCP is the locator scheme of the TCP transport: tcp://host:port
const SchemeTCP = "tcp"

// NewTCP creates the TCP socket transport
func NewTCP(name string, cfg SocketConfig) *SocketProvider {
	if name == "" {
		name = SchemeTCP
	}
	return NewSocketProvider(name, []string{SchemeTCP}, TCPDialer(), cfg)
}

// TCPDialer dials host:port, ignoring any path after the address
func TCPDialer() Dialer {
	return DialerFunc(func(ctx context.Context, address string) (io.ReadWriteCloser, error) {
		if i := strings.IndexByte(address, '/'); i >= 0 {
			address = address[:i]
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", address)
	})
}
