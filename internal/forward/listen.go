package forward

import (
	"context"
	"fmt"
	"net"
)

// ListenTCP listens on network/addr and returns a net.Listener that applies
// keepAlive to accepted TCP connections.
func ListenTCP(ctx context.Context, network, addr string, keepAlive net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return &keepAliveListener{Listener: ln, keepAlive: keepAlive}, nil
}

type keepAliveListener struct {
	net.Listener
	keepAlive net.KeepAliveConfig
}

func (l *keepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.keepAlive)
	}

	return conn, nil
}
