package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"
)

func TestReadWriteEcho(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	tr := New(left, true)
	defer tr.Close()

	go func() {
		buf := make([]byte, 16)
		n, err := right.Read(buf)
		if err != nil {
			return
		}
		_, _ = right.Write(buf[:n])
	}()

	msg := []byte("hello")
	if _, err := tr.Write(msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(tr, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("expected %q got %q", msg, buf)
	}
}

func TestReadContextCancel(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	defer right.Close()
	tr := New(left, true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := tr.ReadContext(ctx, make([]byte, 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation took %v", elapsed)
	}

	if tr.Connected() {
		t.Fatal("expected transport to be disconnected after cancellation")
	}
	if _, err := tr.Read(make([]byte, 1)); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected net.ErrClosed after teardown, got %v", err)
	}
}

func TestReadTimeout(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	defer right.Close()
	tr := New(left, true)
	tr.SetReadTimeout(100 * time.Millisecond)

	_, err := tr.Read(make([]byte, 1))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected os.ErrDeadlineExceeded, got %v", err)
	}
	if tr.Connected() {
		t.Fatal("expected transport to be disconnected after timeout")
	}
}

func TestWriteContextCancel(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	defer right.Close()
	tr := New(left, true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	// Nothing reads from right, so the write blocks until canceled.
	_, err := tr.WriteContext(ctx, make([]byte, 1<<20))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.Connected() {
		t.Fatal("expected transport to be disconnected after cancellation")
	}
}

func TestReadEOFKeepsTransportUsable(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	tr := New(left, true)
	defer tr.Close()

	_ = right.Close()

	if _, err := tr.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if !tr.Connected() {
		t.Fatal("clean EOF should not tear the transport down")
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	left, _ := net.Pipe()
	tr := New(left, true)

	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if tr.Connected() {
		t.Fatal("expected Connected to be false after Close")
	}
}

func TestDetach(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	defer right.Close()

	tr := New(left, true)

	// A polled read leaves a slice deadline armed on the connection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = right.Write([]byte("x")) }()
	if _, err := tr.ReadContext(ctx, make([]byte, 1)); err != nil {
		t.Fatal(err)
	}

	c := tr.Detach()
	defer c.Close()

	if tr.Connected() {
		t.Fatal("expected Connected to be false after Detach")
	}
	if _, err := tr.Read(make([]byte, 1)); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected net.ErrClosed from the detached transport, got %v", err)
	}

	// Detach cleared the leftover deadline, so data arriving after the old
	// slice would have expired is still readable.
	go func() {
		time.Sleep(300 * time.Millisecond)
		_, _ = right.Write([]byte("y"))
	}()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("detached conn should remain usable: %v", err)
	}
}

func TestNotOwnedCloseLeavesConnOpen(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	tr := New(left, false)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	// The underlying pipe is still usable by its owner.
	go func() { _, _ = left.Write([]byte("x")) }()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(right, buf); err != nil {
		t.Fatalf("underlying conn should remain open: %v", err)
	}
}
