package socks

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/culvert-proxy/culvert/internal/proxyerr"
	"github.com/culvert-proxy/culvert/internal/testutil"
)

// runScript plays steps against one end of a pipe and returns the client
// end plus a wait func.
func runScript(t *testing.T, steps []testutil.ExchangeStep) (net.Conn, func()) {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	handler := testutil.ScriptedHandler(t, steps)

	var wg sync.WaitGroup
	wg.Go(func() {
		handler(server)
	})

	return client, wg.Wait
}

func assertSentinel(t *testing.T, r io.Reader, want string) {
	t.Helper()

	buf := make([]byte, len(want))
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != want {
		t.Fatalf("expected first tunneled bytes %q, got %q", want, buf)
	}
}

func TestConnect4Wire(t *testing.T) {
	t.Parallel()

	client, wait := runScript(t, []testutil.ExchangeStep{
		{
			Expect:  []byte{0x04, 0x01, 0x00, 0x50, 0xc0, 0x00, 0x02, 0x01, 0x00},
			Respond: append([]byte{0x00, 0x5a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, "OK!"...),
		},
	})

	if err := Connect4(client, net.ParseIP("192.0.2.1"), "", 80, ""); err != nil {
		t.Fatal(err)
	}
	assertSentinel(t, client, "OK!")
	wait()
}

func TestConnect4aWire(t *testing.T) {
	t.Parallel()

	want := []byte{0x04, 0x01, 0x01, 0xbb, 0x00, 0x00, 0x00, 0x01}
	want = append(want, "bob"...)
	want = append(want, 0x00)
	want = append(want, "example.com"...)
	want = append(want, 0x00)

	client, wait := runScript(t, []testutil.ExchangeStep{
		{
			Expect:  want,
			Respond: []byte{0x00, 0x5a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		},
	})

	if err := Connect4(client, nil, "example.com", 443, "bob"); err != nil {
		t.Fatal(err)
	}
	wait()
}

func TestConnect4Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		code   byte
		reason string
	}{
		{name: "rejected", code: 0x5b, reason: "request rejected or failed"},
		{name: "no_identd", code: 0x5c, reason: "request rejected because SOCKS server cannot connect to identd on the client"},
		{name: "wrong_id", code: 0x5d, reason: "request rejected because the client program and identd report different user-ids"},
		{name: "unknown", code: 0x7f, reason: "unknown error (0x7f)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, wait := runScript(t, []testutil.ExchangeStep{
				{
					Expect:  []byte{0x04, 0x01, 0x00, 0x50, 0xc0, 0x00, 0x02, 0x01, 0x00},
					Respond: []byte{0x00, tt.code, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
				},
			})

			err := Connect4(client, net.ParseIP("192.0.2.1"), "", 80, "")
			var perr *proxyerr.ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
			if perr.Reason != tt.reason {
				t.Fatalf("got reason %q want %q", perr.Reason, tt.reason)
			}
			wait()
		})
	}
}

func TestConnect4RequiresIPv4(t *testing.T) {
	t.Parallel()

	client, _ := net.Pipe()
	defer client.Close()

	err := Connect4(client, net.ParseIP("2001:db8::1"), "", 80, "")
	if !errors.Is(err, proxyerr.ErrNoIPv4) {
		t.Fatalf("expected ErrNoIPv4, got %v", err)
	}
}

func TestConnect5WithCredentials(t *testing.T) {
	t.Parallel()

	authReq := []byte{0x01, 0x05}
	authReq = append(authReq, "alice"...)
	authReq = append(authReq, 0x06)
	authReq = append(authReq, "secret"...)

	connReq := []byte{0x05, 0x01, 0x00, 0x03, 0x0b}
	connReq = append(connReq, "example.com"...)
	connReq = append(connReq, 0x00, 0x50)

	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x02, 0x02, 0x00}, Respond: []byte{0x05, 0x02}},
		{Expect: authReq, Respond: []byte{0x01, 0x00}},
		{
			Expect:  connReq,
			Respond: append([]byte{0x05, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, "TUNNEL"...),
		},
	})

	auth := Auth{Username: "alice", Password: "secret"}
	if err := Connect5(client, auth, "example.com:80"); err != nil {
		t.Fatal(err)
	}
	assertSentinel(t, client, "TUNNEL")
	wait()
}

func TestConnect5NoAuth(t *testing.T) {
	t.Parallel()

	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x01, 0x00}, Respond: []byte{0x05, 0x00}},
		{
			Expect: []byte{0x05, 0x01, 0x00, 0x01, 0xc0, 0x00, 0x02, 0x05, 0x01, 0xbb},
			// Domain-typed bound address exercises the variable-length
			// reply path.
			Respond: append([]byte{0x05, 0x00, 0x00, 0x03, 0x04}, 't', 'e', 's', 't', 0x00, 0x00),
		},
	})

	if err := Connect5(client, Auth{}, "192.0.2.5:443"); err != nil {
		t.Fatal(err)
	}
	wait()
}

func TestConnect5Refused(t *testing.T) {
	t.Parallel()

	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x01, 0x00}, Respond: []byte{0x05, 0x00}},
		{
			Expect:  []byte{0x05, 0x01, 0x00, 0x01, 0xc0, 0x00, 0x02, 0x05, 0x00, 0x50},
			Respond: []byte{0x05, 0x05, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		},
	})

	err := Connect5(client, Auth{}, "192.0.2.5:80")
	var perr *proxyerr.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if perr.Reason != "connection refused" {
		t.Fatalf("got reason %q", perr.Reason)
	}
	wait()
}

func TestConnect5NegotiationVersionMismatch(t *testing.T) {
	t.Parallel()

	// A SOCKS4 version byte where a SOCKS5 negotiation reply belongs.
	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x01, 0x00}, Respond: []byte{0x04, 0x00}},
	})

	err := Connect5(client, Auth{}, "192.0.2.5:80")
	var perr *proxyerr.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	wait()
}

func TestConnect5ReplyVersionMismatch(t *testing.T) {
	t.Parallel()

	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x01, 0x00}, Respond: []byte{0x05, 0x00}},
		{
			Expect:  []byte{0x05, 0x01, 0x00, 0x01, 0xc0, 0x00, 0x02, 0x05, 0x00, 0x50},
			Respond: []byte{0x04, 0x00, 0x00, 0x01},
		},
	})

	err := Connect5(client, Auth{}, "192.0.2.5:80")
	var perr *proxyerr.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	wait()
}

func TestConnect5ReplyBadAddressType(t *testing.T) {
	t.Parallel()

	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x01, 0x00}, Respond: []byte{0x05, 0x00}},
		{
			Expect:  []byte{0x05, 0x01, 0x00, 0x01, 0xc0, 0x00, 0x02, 0x05, 0x00, 0x50},
			Respond: []byte{0x05, 0x00, 0x00, 0x09},
		},
	})

	err := Connect5(client, Auth{}, "192.0.2.5:80")
	var perr *proxyerr.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	wait()
}

func TestConnect5AuthReplyVersionMismatch(t *testing.T) {
	t.Parallel()

	authReq := []byte{0x01, 0x05}
	authReq = append(authReq, "alice"...)
	authReq = append(authReq, 0x06)
	authReq = append(authReq, "secret"...)

	// Sub-negotiation reply carries the wrong sub-negotiation version.
	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x02, 0x02, 0x00}, Respond: []byte{0x05, 0x02}},
		{Expect: authReq, Respond: []byte{0x02, 0x00}},
	})

	err := Connect5(client, Auth{Username: "alice", Password: "secret"}, "192.0.2.5:80")
	var perr *proxyerr.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	wait()
}

func TestConnect5ServerClosedMidHandshake(t *testing.T) {
	t.Parallel()

	// A dropped connection is a transport failure, not a protocol error.
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	var wg sync.WaitGroup
	wg.Go(func() {
		buf := make([]byte, 3)
		_, _ = io.ReadFull(server, buf)
		_ = server.Close()
	})

	err := Connect5(client, Auth{}, "192.0.2.5:80")
	var perr *proxyerr.ProtocolError
	if errors.As(err, &perr) {
		t.Fatalf("connection loss misreported as ProtocolError: %v", err)
	}
	if err == nil {
		t.Fatal("expected error after server hangup")
	}
	wg.Wait()
}

func TestConnect5UnofferedMethodChosen(t *testing.T) {
	t.Parallel()

	// Server picks username/password although only no-auth was offered.
	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x01, 0x00}, Respond: []byte{0x05, 0x02}},
	})

	err := Connect5(client, Auth{}, "192.0.2.5:80")
	var perr *proxyerr.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	wait()
}

func TestConnect5AuthRejected(t *testing.T) {
	t.Parallel()

	authReq := []byte{0x01, 0x05}
	authReq = append(authReq, "alice"...)
	authReq = append(authReq, 0x05)
	authReq = append(authReq, "wrong"...)

	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x02, 0x02, 0x00}, Respond: []byte{0x05, 0x02}},
		{Expect: authReq, Respond: []byte{0x01, 0x01}},
	})

	err := Connect5(client, Auth{Username: "alice", Password: "wrong"}, "192.0.2.5:80")
	var aerr *proxyerr.AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	wait()
}

func TestConnect5CredentialsTooLong(t *testing.T) {
	t.Parallel()

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}

	client, wait := runScript(t, []testutil.ExchangeStep{
		{Expect: []byte{0x05, 0x02, 0x02, 0x00}, Respond: []byte{0x05, 0x02}},
	})

	err := Connect5(client, Auth{Username: string(long), Password: "pw"}, "192.0.2.5:80")
	var aerr *proxyerr.AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	wait()
}
