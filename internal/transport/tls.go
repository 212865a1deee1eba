package transport

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ChannelBindingKind selects a TLS channel-binding token type.
type ChannelBindingKind int

const (
	// BindingUnique is the RFC 5929 tls-unique binding. Not available on
	// TLS 1.3 sessions.
	BindingUnique ChannelBindingKind = iota
	// BindingEndpoint is the RFC 5929 tls-server-end-point binding, a hash
	// of the server's leaf certificate.
	BindingEndpoint
)

func (k ChannelBindingKind) String() string {
	switch k {
	case BindingUnique:
		return "tls-unique"
	case BindingEndpoint:
		return "tls-server-end-point"
	default:
		return fmt.Sprintf("ChannelBindingKind(%d)", int(k))
	}
}

// UpgradeTLS performs a client TLS handshake over t's connection and
// returns a new Transport carrying the secured stream. t is detached: the
// TLS session is layered directly over the raw connection, so only the
// returned Transport manages deadlines on the socket, and t's timeouts do
// not carry over. On handshake failure the connection is closed.
func UpgradeTLS(ctx context.Context, t *Transport, cfg *tls.Config) (*Transport, error) {
	raw := t.Detach()

	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	nt := New(tlsConn, true)
	nt.tlsConn = tlsConn
	return nt, nil
}

// ChannelBinding returns the requested channel-binding token for a
// TLS-upgraded Transport. It returns ok=false, not an error, when the
// Transport is not TLS-upgraded or the session does not expose the
// requested binding. Tokens are computed lazily and cached per kind for the
// lifetime of the session.
func (t *Transport) ChannelBinding(kind ChannelBindingKind) ([]byte, bool) {
	if t.tlsConn == nil {
		return nil, false
	}

	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	if token, ok := t.bindings[kind]; ok {
		return token, token != nil
	}
	if t.bindings == nil {
		t.bindings = make(map[ChannelBindingKind][]byte)
	}

	token := t.computeBinding(kind)
	t.bindings[kind] = token
	return token, token != nil
}

func (t *Transport) computeBinding(kind ChannelBindingKind) []byte {
	state := t.tlsConn.ConnectionState()

	switch kind {
	case BindingUnique:
		if len(state.TLSUnique) == 0 {
			return nil
		}
		return append([]byte(nil), state.TLSUnique...)
	case BindingEndpoint:
		if len(state.PeerCertificates) == 0 {
			return nil
		}
		return endpointHash(state.PeerCertificates[0])
	default:
		return nil
	}
}

// endpointHash hashes the certificate per the RFC 5929 tls-server-end-point
// rules: the certificate's signature hash, with MD5 and SHA-1 upgraded to
// SHA-256.
func endpointHash(cert *x509.Certificate) []byte {
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		sum := sha512.Sum384(cert.Raw)
		return sum[:]
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		sum := sha512.Sum512(cert.Raw)
		return sum[:]
	default:
		sum := sha256.Sum256(cert.Raw)
		return sum[:]
	}
}
