// Package proxyerr defines the error types shared by the proxy handshake
// and dialer packages. Dialers wrap these with the proxy and target
// host:port; cancellation and timeouts surface as context.Canceled,
// context.DeadlineExceeded, or os.ErrDeadlineExceeded.
package proxyerr

import (
	"errors"
	"fmt"
)

// ErrNoIPv4 indicates a target could not be expressed as an IPv4 address,
// which SOCKS4 requires.
var ErrNoIPv4 = errors.New("no IPv4 address for target")

// ProtocolError indicates the proxy server's response violated the expected
// protocol framing or reported a proxy-side failure. Reason carries the
// protocol's own failure text where it defines one.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "proxy protocol error: " + e.Reason
}

// AuthError indicates credential-based sub-negotiation was rejected or the
// credentials could not be encoded.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "proxy authentication: " + e.Reason
}

// TLSError indicates the TLS handshake with an HTTPS proxy itself failed,
// as opposed to any TLS the tunneled connection may separately need.
type TLSError struct {
	Proxy string
	Err   error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("proxy %s: tls handshake: %v", e.Proxy, e.Err)
}

func (e *TLSError) Unwrap() error {
	return e.Err
}

// SchemeError indicates a proxy URL scheme this module does not implement.
type SchemeError struct {
	Scheme string
}

func (e *SchemeError) Error() string {
	return fmt.Sprintf("unsupported proxy scheme: %q", e.Scheme)
}
