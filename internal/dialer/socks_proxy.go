package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/culvert-proxy/culvert/internal/socks"
	"github.com/culvert-proxy/culvert/internal/transport"
)

// defaultSOCKSPort is the port used when a SOCKS proxy URL carries none.
const defaultSOCKSPort = 1080

// SOCKS4ProxyDialer dials outbound connections through a SOCKS4 or SOCKS4a
// proxy.
type SOCKS4ProxyDialer struct {
	client proxyClient

	// domainMode selects SOCKS4a: hostnames are forwarded to the proxy
	// instead of being resolved client-side.
	domainMode bool
}

// NewSOCKS4ProxyDialer constructs a SOCKS4 dialer for host:port. userID is
// sent as the ident field; domainMode selects the SOCKS4a variant.
func NewSOCKS4ProxyDialer(cfg Config, host string, port int, userID string, domainMode bool) (*SOCKS4ProxyDialer, error) {
	c, err := newProxyClient(cfg, host, port, defaultSOCKSPort, userID, "")
	if err != nil {
		return nil, err
	}
	return &SOCKS4ProxyDialer{client: c, domainMode: domainMode}, nil
}

// ProxyAddr returns the proxy host:port.
func (d *SOCKS4ProxyDialer) ProxyAddr() string {
	return d.client.proxyAddr()
}

// DialContext establishes a tunnel to address via the SOCKS4 proxy.
//
// SOCKS4 carries only IPv4 destinations: hostnames are resolved client-side
// to an IPv4 address, and IPv6 targets fail. In SOCKS4a mode hostnames are
// forwarded to the proxy unresolved.
func (d *SOCKS4ProxyDialer) DialContext(ctx context.Context, network, address string) (*transport.Transport, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks4 proxy dial %s %s: unsupported network", network, address)
	}

	targetHost, targetPort, err := splitTarget(address)
	if err != nil {
		return nil, fmt.Errorf("socks4 proxy dial: %w", err)
	}

	var ip net.IP
	var domain string
	if d.domainMode && net.ParseIP(targetHost) == nil {
		domain = targetHost
	} else {
		ip, err = d.client.conn.ResolveIPv4(ctx, targetHost)
		if err != nil {
			return nil, fmt.Errorf("socks4 proxy dial %s %s: %w", network, address, err)
		}
	}

	t, err := d.client.dialProxy(ctx)
	if err != nil {
		return nil, fmt.Errorf("socks4 proxy dial %s %s: %w", network, address, err)
	}

	rw := transport.WithContext(ctx, t)
	if err := socks.Connect4(rw, ip, domain, targetPort, d.client.username); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("socks4 proxy dial %s %s via %s: %w", network, address, d.client.proxyAddr(), err)
	}

	return d.client.finishHandshake(t), nil
}

// SOCKS5ProxyDialer dials outbound connections through a SOCKS5 proxy, with
// optional username/password authentication.
type SOCKS5ProxyDialer struct {
	client proxyClient
}

func NewSOCKS5ProxyDialer(cfg Config, host string, port int, username, password string) (*SOCKS5ProxyDialer, error) {
	c, err := newProxyClient(cfg, host, port, defaultSOCKSPort, username, password)
	if err != nil {
		return nil, err
	}
	return &SOCKS5ProxyDialer{client: c}, nil
}

// ProxyAddr returns the proxy host:port.
func (d *SOCKS5ProxyDialer) ProxyAddr() string {
	return d.client.proxyAddr()
}

// DialContext establishes a tunnel to address via the SOCKS5 proxy. The
// target address type (IPv4, IPv6, or domain) is taken from the host
// literal; domains are forwarded to the proxy unresolved.
func (d *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (*transport.Transport, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	if _, _, err := splitTarget(address); err != nil {
		return nil, fmt.Errorf("socks5 proxy dial: %w", err)
	}

	t, err := d.client.dialProxy(ctx)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}

	auth := socks.Auth{Username: d.client.username, Password: d.client.password}
	rw := transport.WithContext(ctx, t)
	if err := socks.Connect5(rw, auth, address); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s %s via %s: %w", network, address, d.client.proxyAddr(), err)
	}

	return d.client.finishHandshake(t), nil
}
