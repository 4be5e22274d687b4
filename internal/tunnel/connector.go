package tunnel

import (
	"context"
	"errors"
	"net"
	"time"
)

// Connector resolves and dials a tunnel target, writing any nugget bytes
// before handing the connection back.
type Connector struct {
	Resolver *Resolver
	Dialer   *net.Dialer
}

// NewConnector builds a Connector using resolver and a zero-value
// net.Dialer; the connect timeout is passed to each Connect call.
func NewConnector(resolver *Resolver) *Connector {
	return &Connector{Resolver: resolver, Dialer: &net.Dialer{}}
}

// Connect resolves targetURI, dials it under connectTimeout, disables
// Nagle's algorithm, and — if nugget carries bytes — writes them to the
// target before returning. Failures are mapped to the wire status that the
// controller should respond with.
func (c *Connector) Connect(ctx context.Context, targetURI string, nugget Nugget, connectTimeout time.Duration) (net.Conn, Status, error) {
	addr, err := c.Resolver.Resolve(ctx, targetURI)
	if err != nil {
		return nil, StatusBadGateway, err
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if connectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}

	conn, err := c.Dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, StatusGatewayTimeout, err
		}
		return nil, StatusBadGateway, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	if !nugget.Empty() {
		if _, err := conn.Write(nugget.Bytes()); err != nil {
			_ = conn.Close()
			return nil, StatusBadGateway, err
		}
	}

	return conn, StatusOk, nil
}

// DisableNagle applies TCP_NODELAY to conn if it is a *net.TCPConn. It is
// used on the client-facing socket, which the connector does not own.
func DisableNagle(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
