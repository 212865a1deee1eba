package dialer

import (
	"crypto/tls"
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS resolution and the TCP connect to the proxy
	// server.
	DialTimeout time.Duration

	// NegotiationTimeout bounds each read and write of the proxy
	// handshake. It is cleared from the Transport once the tunnel is
	// established.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// LocalAddr optionally binds the local side of the proxy connection.
	LocalAddr *net.TCPAddr

	// DNSServer optionally routes name resolution to an explicit server
	// (host or host:port) instead of the system resolver.
	DNSServer string

	// TLSConfig overrides the TLS configuration used for the outer
	// handshake with an https proxy. A nil ServerName defaults to the
	// proxy host.
	TLSConfig *tls.Config
}
