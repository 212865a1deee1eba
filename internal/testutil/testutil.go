// Package testutil provides small loopback servers and assertions shared
// by the package tests.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
)

// StartEchoTCPServer starts a loopback listener whose first accepted
// connection echoes a single read back to the client.
func StartEchoTCPServer(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		buf := make([]byte, 1024)
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		_, _ = c.Write(buf[:n])
	}()

	return ln
}

// StartSingleAcceptServer starts a loopback listener that hands its first
// accepted connection to handler. The returned func closes the listener
// and waits for handler to finish.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	})

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}

	return ln, wait
}

// ExchangeStep is one request/response round of a scripted handshake.
type ExchangeStep struct {
	// Expect is the exact byte sequence the server requires from the
	// client before responding. Empty skips the read.
	Expect []byte
	// Respond is written back once Expect has been consumed.
	Respond []byte
}

// ScriptedHandler returns a connection handler that plays through steps in
// order, failing the test on any byte that deviates from the script. Used
// to mock proxy servers with bit-exact handshakes.
func ScriptedHandler(t *testing.T, steps []ExchangeStep) func(net.Conn) {
	t.Helper()

	return func(c net.Conn) {
		for i, step := range steps {
			if len(step.Expect) > 0 {
				got := make([]byte, len(step.Expect))
				if _, err := io.ReadFull(c, got); err != nil {
					t.Errorf("step %d: read: %v", i, err)
					return
				}
				if !bytes.Equal(got, step.Expect) {
					t.Errorf("step %d: got % x want % x", i, got, step.Expect)
					return
				}
			}
			if len(step.Respond) > 0 {
				if _, err := c.Write(step.Respond); err != nil {
					t.Errorf("step %d: write: %v", i, err)
					return
				}
			}
		}
	}
}

// AssertEcho writes msg to w and requires the same bytes back from r.
func AssertEcho(t *testing.T, w io.Writer, r io.Reader, msg []byte) {
	t.Helper()

	if _, err := w.Write(msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, msg) {
		t.Fatalf("expected %q got %q", string(msg), string(buf))
	}
}
