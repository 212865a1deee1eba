// Package connector establishes the raw TCP connection underneath a proxy
// handshake: it resolves hostnames (system resolver or an explicit DNS
// server), tries the resulting addresses in order, and optionally binds a
// local endpoint.
package connector

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/culvert-proxy/culvert/internal/proxyerr"
	"github.com/culvert-proxy/culvert/internal/transport"
)

type Config struct {
	// DialTimeout bounds each individual connect attempt. Zero means no
	// timeout beyond the context.
	DialTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// LocalAddr optionally binds the local side of outbound connections.
	LocalAddr *net.TCPAddr

	// DNSServer optionally routes name resolution to an explicit server
	// (host or host:port) instead of the system resolver.
	DNSServer string
}

// Resolver resolves a hostname to an ordered set of addresses.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

type Connector struct {
	cfg      Config
	resolver Resolver
}

func New(cfg Config) *Connector {
	var r Resolver = systemResolver{}
	if cfg.DNSServer != "" {
		r = newDNSResolver(cfg.DNSServer)
	}
	return &Connector{cfg: cfg, resolver: r}
}

// Connect resolves address's host and attempts a TCP connection to each
// resolved address in order, returning a Transport for the first that
// succeeds. Cancellation mid-connect aborts without trying further
// addresses.
func (c *Connector) Connect(ctx context.Context, address string) (*transport.Transport, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ips, err = c.resolver.LookupIP(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", address, err)
		}
	}

	var lastErr error
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := c.dial(ctx, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return transport.New(conn, true), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", host)
	}
	return nil, fmt.Errorf("connect %s: %w", address, lastErr)
}

// ResolveIPv4 resolves host to a single IPv4 address, as required for
// building SOCKS4 requests. A literal or resolvable IPv6-only host fails
// with proxyerr.ErrNoIPv4.
func (c *Connector) ResolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%s: %w", host, proxyerr.ErrNoIPv4)
	}

	ips, err := c.resolver.LookupIP(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", host, proxyerr.ErrNoIPv4)
}

func (c *Connector) dial(ctx context.Context, address string) (net.Conn, error) {
	d := net.Dialer{
		Timeout:         c.cfg.DialTimeout,
		KeepAliveConfig: c.cfg.KeepAlive,
	}
	if c.cfg.LocalAddr != nil {
		d.LocalAddr = c.cfg.LocalAddr
		d.Control = bindControl
	}

	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", address, err)
	}
	return conn, nil
}

type systemResolver struct{}

func (systemResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}
