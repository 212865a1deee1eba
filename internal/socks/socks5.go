package socks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/culvert-proxy/culvert/internal/proxyerr"
)

// Auth configures optional username/password authentication for SOCKS5
// negotiation.
type Auth struct {
	Username string
	Password string
}

// Connect5 runs the full SOCKS5 client handshake on rw: method negotiation,
// username/password sub-negotiation when the server selects it, and the
// CONNECT round for address (host:port).
func Connect5(rw io.ReadWriter, auth Auth, address string) error {
	if err := negotiate(rw, auth); err != nil {
		return err
	}
	return connect(rw, address)
}

func negotiate(rw io.ReadWriter, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = []byte{txsocks5.MethodUsernamePassword, txsocks5.MethodNone}
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(rw); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(rw)
	if err != nil {
		return frameErr("read negotiation", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if auth.Username == "" {
			return &proxyerr.ProtocolError{Reason: "server chose username/password but it was not offered"}
		}
		return authenticate(rw, auth)
	default:
		return &proxyerr.ProtocolError{Reason: fmt.Sprintf("server chose unsupported method 0x%02x", neg.Method)}
	}
}

func authenticate(rw io.ReadWriter, auth Auth) error {
	uname := []byte(auth.Username)
	passwd := []byte(auth.Password)
	defer wipe(passwd)

	if len(uname) > 255 {
		return &proxyerr.AuthError{Reason: "username longer than 255 bytes"}
	}
	if len(passwd) > 255 {
		return &proxyerr.AuthError{Reason: "password longer than 255 bytes"}
	}

	if _, err := txsocks5.NewUserPassNegotiationRequest(uname, passwd).WriteTo(rw); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}

	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(rw)
	if err != nil {
		return frameErr("read userpass", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return &proxyerr.AuthError{Reason: fmt.Sprintf("server rejected credentials (status 0x%02x)", rep.Status)}
	}
	return nil
}

func connect(rw io.ReadWriter, address string) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", address, err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
		if len(dstAddr) > 255 {
			return fmt.Errorf("domain in %q longer than 255 bytes", address)
		}
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(rw); err != nil {
		return fmt.Errorf("write connect request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(rw)
	if err != nil {
		return frameErr("read connect reply", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &proxyerr.ProtocolError{Reason: socks5Reason(rep.Rep)}
	}

	// The bound address and port in the reply are not needed by any
	// caller.
	return nil
}

func socks5Reason(code byte) string {
	switch code {
	case txsocks5.RepServerFailure:
		return "general SOCKS server failure"
	case txsocks5.RepNotAllowed:
		return "connection not allowed by ruleset"
	case txsocks5.RepNetworkUnreachable:
		return "network unreachable"
	case txsocks5.RepHostUnreachable:
		return "host unreachable"
	case txsocks5.RepConnectionRefused:
		return "connection refused"
	case txsocks5.RepTTLExpired:
		return "TTL expired"
	case txsocks5.RepCommandNotSupported:
		return "command not supported"
	case txsocks5.RepAddressNotSupported:
		return "address type not supported"
	default:
		return fmt.Sprintf("unknown error (0x%02x)", code)
	}
}

// frameErr classifies a failed frame read. Transport-level failures
// (cancellation, timeouts, a dropped connection) keep their identity so
// callers can match them; anything else means the server sent a frame
// that violates the protocol, such as a wrong version byte or an unknown
// address type, and surfaces as a ProtocolError.
func frameErr(stage string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &ne):
		return fmt.Errorf("%s: %w", stage, err)
	default:
		return &proxyerr.ProtocolError{Reason: stage + ": " + err.Error()}
	}
}

// wipe zeroes a secret buffer so it does not linger in memory after the
// authentication message has been written.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
