// Package network opens the listening sockets casetalink serves on.
package network

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// ListenConfig returns a net.ListenConfig that sets SO_REUSEADDR before
// binding, so a restarted process can rebind a port still in TIME_WAIT.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = setReuseAddr(fd)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
}

// Listen opens a TCP listener on addr with address reuse enabled.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := ListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}
