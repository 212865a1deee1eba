package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/culvert-proxy/culvert/internal/connector"
	"github.com/culvert-proxy/culvert/internal/transport"
)

// proxyClient holds the validated proxy endpoint and shared plumbing used
// by every concrete proxy dialer.
type proxyClient struct {
	cfg       Config
	proxyHost string
	proxyPort int
	username  string
	password  string
	conn      *connector.Connector
}

// newProxyClient validates the proxy endpoint before any I/O happens. A
// zero port is normalized to defaultPort.
func newProxyClient(cfg Config, host string, port, defaultPort int, username, password string) (proxyClient, error) {
	if host == "" {
		return proxyClient{}, errors.New("proxy host must not be empty")
	}
	if len(host) > 255 {
		return proxyClient{}, fmt.Errorf("proxy host longer than 255 characters: %q", host[:16]+"...")
	}
	if port < 0 || port > 65535 {
		return proxyClient{}, fmt.Errorf("proxy port %d out of range", port)
	}
	if port == 0 {
		port = defaultPort
	}

	return proxyClient{
		cfg:       cfg,
		proxyHost: host,
		proxyPort: port,
		username:  username,
		password:  password,
		conn: connector.New(connector.Config{
			DialTimeout: cfg.DialTimeout,
			KeepAlive:   cfg.KeepAlive,
			LocalAddr:   cfg.LocalAddr,
			DNSServer:   cfg.DNSServer,
		}),
	}, nil
}

// ProxyAddr returns the proxy host:port after default-port normalization.
func (c *proxyClient) proxyAddr() string {
	return net.JoinHostPort(c.proxyHost, strconv.Itoa(c.proxyPort))
}

// dialProxy establishes the raw connection to the proxy server and arms the
// negotiation timeout for the handshake that follows.
func (c *proxyClient) dialProxy(ctx context.Context) (*transport.Transport, error) {
	t, err := c.conn.Connect(ctx, c.proxyAddr())
	if err != nil {
		return nil, err
	}
	if c.cfg.NegotiationTimeout > 0 {
		t.SetReadTimeout(c.cfg.NegotiationTimeout)
		t.SetWriteTimeout(c.cfg.NegotiationTimeout)
	}
	return t, nil
}

// finishHandshake clears the negotiation timeouts; the tunnel's users set
// their own deadlines from here on.
func (c *proxyClient) finishHandshake(t *transport.Transport) *transport.Transport {
	t.SetReadTimeout(0)
	t.SetWriteTimeout(0)
	return t
}

// splitTarget validates and splits a target address into host and port.
func splitTarget(address string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("target %q: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("target port %q: %w", portStr, err)
	}
	if port == 0 {
		return "", 0, fmt.Errorf("target %q: port must not be zero", address)
	}
	return host, uint16(port), nil
}
