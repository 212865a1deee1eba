package dialer

import (
	"context"
	"fmt"
	"strings"

	"github.com/culvert-proxy/culvert/internal/connector"
	"github.com/culvert-proxy/culvert/internal/transport"
)

// directDialer bypasses any proxy and connects straight to the target.
type directDialer struct {
	conn *connector.Connector
}

func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{
		conn: connector.New(connector.Config{
			DialTimeout: cfg.DialTimeout,
			KeepAlive:   cfg.KeepAlive,
			LocalAddr:   cfg.LocalAddr,
			DNSServer:   cfg.DNSServer,
		}),
	}
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (*transport.Transport, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("direct dial %s %s: unsupported network", network, address)
	}

	t, err := d.conn.Connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("direct dial %s %s: %w", network, address, err)
	}
	return t, nil
}
