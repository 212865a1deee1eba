package socks

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/culvert-proxy/culvert/internal/proxyerr"
)

const (
	socks4Version    = 0x04
	socks4CmdConnect = 0x01
	socks4Granted    = 0x5a
)

// socks4aPlaceholder is the reserved invalid destination 0.0.0.1 that tells
// a SOCKS4a server to connect to the trailing domain instead.
var socks4aPlaceholder = [4]byte{0x00, 0x00, 0x00, 0x01}

// Connect4 runs the single-round SOCKS4 CONNECT exchange on rw. Exactly one
// of ip (an IPv4 address) or domain must be set; a non-empty domain selects
// the SOCKS4a variant. userID is sent as the NUL-terminated ident field.
func Connect4(rw io.ReadWriter, ip net.IP, domain string, port uint16, userID string) error {
	req := make([]byte, 0, 9+len(userID)+len(domain)+1)
	req = append(req, socks4Version, socks4CmdConnect)
	req = binary.BigEndian.AppendUint16(req, port)

	if domain != "" {
		req = append(req, socks4aPlaceholder[:]...)
	} else {
		v4 := ip.To4()
		if v4 == nil {
			return fmt.Errorf("%s: %w", ip, proxyerr.ErrNoIPv4)
		}
		req = append(req, v4...)
	}

	req = append(req, userID...)
	req = append(req, 0x00)
	if domain != "" {
		req = append(req, domain...)
		req = append(req, 0x00)
	}

	if _, err := rw.Write(req); err != nil {
		return fmt.Errorf("write socks4 request: %w", err)
	}

	var reply [8]byte
	if _, err := io.ReadFull(rw, reply[:]); err != nil {
		return fmt.Errorf("read socks4 reply: %w", err)
	}

	if reply[1] != socks4Granted {
		return &proxyerr.ProtocolError{Reason: socks4Reason(reply[1])}
	}

	// The bound address and port in reply[2:8] are not needed by any
	// caller.
	return nil
}

func socks4Reason(code byte) string {
	switch code {
	case 0x5b:
		return "request rejected or failed"
	case 0x5c:
		return "request rejected because SOCKS server cannot connect to identd on the client"
	case 0x5d:
		return "request rejected because the client program and identd report different user-ids"
	default:
		return fmt.Sprintf("unknown error (0x%02x)", code)
	}
}
