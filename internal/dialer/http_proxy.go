package dialer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/culvert-proxy/culvert/internal/proxyerr"
	"github.com/culvert-proxy/culvert/internal/transport"
)

// maxConnectResponse caps the CONNECT response headers accumulated while
// scanning for the blank-line terminator.
const maxConnectResponse = 16 << 10

// HTTPProxyDialer dials outbound connections via an HTTP or HTTPS proxy
// using the HTTP CONNECT method.
//
// For HTTPS proxies a TLS handshake is performed against the proxy itself
// before CONNECT is sent; this outer session secures proxy communication
// and is distinct from any TLS the target connection may separately need.
type HTTPProxyDialer struct {
	client proxyClient
	secure bool
}

// NewHTTPProxyDialer constructs a CONNECT dialer for host:port. If username
// is non-empty, Proxy-Authorization is set using HTTP Basic auth. secure
// selects an HTTPS proxy.
func NewHTTPProxyDialer(cfg Config, host string, port int, username, password string, secure bool) (*HTTPProxyDialer, error) {
	defaultPort := 80
	if secure {
		defaultPort = 443
	}

	c, err := newProxyClient(cfg, host, port, defaultPort, username, password)
	if err != nil {
		return nil, err
	}
	return &HTTPProxyDialer{client: c, secure: secure}, nil
}

// ProxyAddr returns the proxy host:port.
func (d *HTTPProxyDialer) ProxyAddr() string {
	return d.client.proxyAddr()
}

// DialContext establishes a tunnel to address via the configured proxy.
// The returned Transport is positioned at the first tunneled payload byte;
// for HTTPS proxies it carries the outer TLS session and exposes its
// channel bindings.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (*transport.Transport, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	if _, _, err := splitTarget(address); err != nil {
		return nil, fmt.Errorf("http proxy dial: %w", err)
	}

	t, err := d.client.dialProxy(ctx)
	if err != nil {
		return nil, fmt.Errorf("http proxy dial %s %s: %w", network, address, err)
	}

	if d.secure {
		t, err = d.upgradeProxyTLS(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("https proxy dial %s %s: %w", network, address, err)
		}
	}

	rw := transport.WithContext(ctx, t)
	if _, err := rw.Write(connectRequest(address, d.client.username, d.client.password)); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("http proxy dial %s %s via %s: connect write: %w", network, address, d.client.proxyAddr(), err)
	}

	statusLine, err := readConnectResponse(rw)
	if err == nil {
		err = checkConnectStatus(statusLine, address)
	}
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("http proxy dial %s %s via %s: %w", network, address, d.client.proxyAddr(), err)
	}

	return d.client.finishHandshake(t), nil
}

// upgradeProxyTLS runs the outer TLS handshake against the proxy server.
// The plain Transport is consumed; only the returned TLS-carrying
// Transport remains, with the negotiation timeout re-armed for the
// CONNECT exchange. On failure the connection is already closed.
func (d *HTTPProxyDialer) upgradeProxyTLS(ctx context.Context, t *transport.Transport) (*transport.Transport, error) {
	cfg := d.client.cfg.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = d.client.proxyHost
	}

	// The handshake runs over the raw connection, so it is bounded by a
	// derived deadline rather than the Transport timeouts.
	if nt := d.client.cfg.NegotiationTimeout; nt > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nt)
		defer cancel()
	}

	tt, err := transport.UpgradeTLS(ctx, t, cfg)
	if err != nil {
		return nil, &proxyerr.TLSError{Proxy: d.client.proxyAddr(), Err: err}
	}
	if d.client.cfg.NegotiationTimeout > 0 {
		tt.SetReadTimeout(d.client.cfg.NegotiationTimeout)
		tt.SetWriteTimeout(d.client.cfg.NegotiationTimeout)
	}
	return tt, nil
}

func connectRequest(address, username, password string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", address)
	fmt.Fprintf(&b, "Host: %s\r\n", address)
	if username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// readConnectResponse reads the proxy's CONNECT response one byte at a
// time, stopping the instant the blank-line terminator is recognized so
// that no tunneled payload byte is consumed, and returns the status line.
func readConnectResponse(r io.Reader) (string, error) {
	var buf bytes.Buffer
	b := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("connect read: %w", err)
		}
		buf.WriteByte(b[0])

		if b[0] == '\n' && endsWithBlankLine(buf.Bytes()) {
			break
		}
		if buf.Len() >= maxConnectResponse {
			return "", &proxyerr.ProtocolError{Reason: "connect response headers too large"}
		}
	}

	line := buf.Bytes()
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return string(bytes.TrimRight(line, "\r")), nil
}

// endsWithBlankLine reports whether buf ends with an empty header line,
// accepting both CRLF and bare LF line endings.
func endsWithBlankLine(buf []byte) bool {
	return bytes.HasSuffix(buf, []byte("\n\r\n")) || bytes.HasSuffix(buf, []byte("\n\n"))
}

// checkConnectStatus accepts exactly an HTTP/1.0 or HTTP/1.1 status line
// with code 200.
func checkConnectStatus(statusLine, address string) error {
	if strings.HasPrefix(statusLine, "HTTP/1.0 200 ") || strings.HasPrefix(statusLine, "HTTP/1.1 200 ") {
		return nil
	}
	return &proxyerr.ProtocolError{Reason: fmt.Sprintf("proxy refused CONNECT to %s: %q", address, statusLine)}
}
