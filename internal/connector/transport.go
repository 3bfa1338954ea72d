package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ziutek/telnet"
)

// DefaultConnectTimeout bounds a single connection attempt to the bridge.
const DefaultConnectTimeout = 10 * time.Second

// Stream is the duplex byte stream a Session owns. Streams backed by a
// socket also implement deadline setters, which the Session uses when
// present.
type Stream interface {
	io.ReadWriteCloser
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Provider opens a new stream to the bridge. Each call is a single attempt.
type Provider interface {
	Open(ctx context.Context) (Stream, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Stream, error)

// Open calls f(ctx).
func (f ProviderFunc) Open(ctx context.Context) (Stream, error) {
	return f(ctx)
}

// TCPProvider dials the bridge's telnet port.
type TCPProvider struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
}

// NewTCPProvider creates a provider for host:port with the default connect timeout.
func NewTCPProvider(host string, port int) *TCPProvider {
	return &TCPProvider{
		Host:           host,
		Port:           port,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Addr returns the dial address.
func (p *TCPProvider) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Open connects to the bridge. The connection is wrapped in a telnet
// connection so option negotiation bytes are filtered out of the stream.
func (p *TCPProvider) Open(ctx context.Context) (Stream, error) {
	timeout := p.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	addr := p.Addr()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().Str("addr", addr).Dur("timeout", timeout).Msg("dialing bridge")

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return nil, &TransportError{Op: "connect", Addr: addr, Err: fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)}
		}
		return nil, &TransportError{Op: "connect", Addr: addr, Err: err}
	}

	tc, err := telnet.NewConn(conn)
	if err != nil {
		conn.Close()
		return nil, &TransportError{Op: "connect", Addr: addr, Err: err}
	}
	return tc, nil
}

// isTimeout reports whether err came from an expired deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
