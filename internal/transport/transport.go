package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// pollInterval bounds how long a blocking operation may wait on the socket
// before re-checking its context.
const pollInterval = 250 * time.Millisecond

// Transport is a duplex byte channel over exactly one underlying network
// connection. It implements net.Conn; Read and Write honor the configured
// read/write timeouts, while ReadContext and WriteContext additionally
// observe a context.
//
// One goroutine may read while another writes, but concurrent reads (or
// concurrent writes) on the same Transport are a caller error.
type Transport struct {
	conn net.Conn
	owns bool

	readTimeout  time.Duration
	writeTimeout time.Duration

	// readDirty/writeDirty record that the poll loop left a deadline on
	// the connection which must be cleared before an unbounded operation.
	readDirty  bool
	writeDirty bool

	mu     sync.Mutex
	closed bool

	// Set when this Transport was produced by UpgradeTLS.
	tlsConn *tls.Conn

	bindMu   sync.Mutex
	bindings map[ChannelBindingKind][]byte
}

// New wraps conn in a Transport. If owns is true the Transport is the sole
// owner of conn and Close releases it; otherwise the caller retains
// responsibility for conn's lifetime.
func New(conn net.Conn, owns bool) *Transport {
	return &Transport{conn: conn, owns: owns}
}

// SetReadTimeout configures the timeout applied to each subsequent read.
// Zero means no timeout. Not safe to call concurrently with a read.
func (t *Transport) SetReadTimeout(d time.Duration) {
	t.readTimeout = d
}

// SetWriteTimeout configures the timeout applied to each subsequent write.
// Zero means no timeout. Not safe to call concurrently with a write.
func (t *Transport) SetWriteTimeout(d time.Duration) {
	t.writeTimeout = d
}

// Connected reports whether the Transport is still usable.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *Transport) Read(p []byte) (int, error) {
	return t.ReadContext(context.Background(), p)
}

func (t *Transport) Write(p []byte) (int, error) {
	return t.WriteContext(context.Background(), p)
}

// ReadContext reads into p, failing with the context's error if it is
// canceled first or with os.ErrDeadlineExceeded if the configured read
// timeout elapses first. On any failure other than a clean EOF the
// Transport is forcibly disconnected.
func (t *Transport) ReadContext(ctx context.Context, p []byte) (int, error) {
	if !t.Connected() {
		return 0, net.ErrClosed
	}

	// Capture the timeout up front so the error can report the configured
	// value even after teardown.
	timeout := t.readTimeout

	if ctx.Done() == nil && timeout <= 0 {
		if t.readDirty {
			_ = t.conn.SetReadDeadline(time.Time{})
			t.readDirty = false
		}
		n, err := t.conn.Read(p)
		if err != nil && !errors.Is(err, io.EOF) {
			t.teardown()
			return n, fmt.Errorf("read: %w", err)
		}
		return n, err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			t.teardown()
			return 0, err
		}

		_ = t.conn.SetReadDeadline(sliceDeadline(deadline))
		t.readDirty = true

		n, err := t.conn.Read(p)
		switch {
		case err == nil:
			return n, nil
		case n > 0 && isTimeout(err):
			return n, nil
		case n > 0 && errors.Is(err, io.EOF):
			return n, io.EOF
		case isTimeout(err):
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				t.teardown()
				return 0, fmt.Errorf("read timed out after %v: %w", timeout, os.ErrDeadlineExceeded)
			}
			// Poll slice elapsed; re-check the context and retry.
		case errors.Is(err, io.EOF):
			return n, io.EOF
		default:
			t.teardown()
			return n, fmt.Errorf("read: %w", err)
		}
	}
}

// WriteContext writes all of p, with the same cancellation, timeout, and
// teardown semantics as ReadContext mirrored for the write direction.
// Partial progress counts against the single configured timeout.
func (t *Transport) WriteContext(ctx context.Context, p []byte) (int, error) {
	if !t.Connected() {
		return 0, net.ErrClosed
	}

	timeout := t.writeTimeout

	if ctx.Done() == nil && timeout <= 0 {
		if t.writeDirty {
			_ = t.conn.SetWriteDeadline(time.Time{})
			t.writeDirty = false
		}
		n, err := t.conn.Write(p)
		if err != nil {
			t.teardown()
			return n, fmt.Errorf("write: %w", err)
		}
		return n, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	written := 0
	for written < len(p) {
		if err := ctx.Err(); err != nil {
			t.teardown()
			return written, err
		}

		_ = t.conn.SetWriteDeadline(sliceDeadline(deadline))
		t.writeDirty = true

		n, err := t.conn.Write(p[written:])
		written += n
		switch {
		case err == nil:
		case isTimeout(err):
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				t.teardown()
				return written, fmt.Errorf("write timed out after %v: %w", timeout, os.ErrDeadlineExceeded)
			}
		default:
			t.teardown()
			return written, fmt.Errorf("write: %w", err)
		}
	}
	return written, nil
}

// Close disconnects the Transport. It is idempotent. When the Transport
// owns its connection, a best-effort graceful shutdown of the write side is
// attempted before the connection is released.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if !t.owns {
		return nil
	}
	if tc, ok := t.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	return t.conn.Close()
}

// Detach marks the Transport closed and hands its connection to the
// caller without closing it, transferring ownership. Deadlines left on
// the connection by earlier polled operations are cleared. Used when
// the stream is re-wrapped, as in a TLS upgrade, so that exactly one
// layer manages poll deadlines on the socket.
func (t *Transport) Detach() net.Conn {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	if t.readDirty || t.writeDirty {
		_ = t.conn.SetDeadline(time.Time{})
		t.readDirty, t.writeDirty = false, false
	}
	return t.conn
}

// teardown forcibly disconnects after a failed operation, regardless of
// ownership, so the Transport cannot be reused in a half-broken state.
func (t *Transport) teardown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.conn.Close()
}

func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *Transport) SetDeadline(d time.Time) error {
	t.readDirty, t.writeDirty = false, false
	return t.conn.SetDeadline(d)
}

func (t *Transport) SetReadDeadline(d time.Time) error {
	t.readDirty = false
	return t.conn.SetReadDeadline(d)
}

func (t *Transport) SetWriteDeadline(d time.Time) error {
	t.writeDirty = false
	return t.conn.SetWriteDeadline(d)
}

// sliceDeadline returns the next poll-slice deadline, clamped to the
// operation deadline when one is set.
func sliceDeadline(deadline time.Time) time.Time {
	slice := time.Now().Add(pollInterval)
	if !deadline.IsZero() && deadline.Before(slice) {
		return deadline
	}
	return slice
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// WithContext returns an io.ReadWriter whose Read and Write delegate to
// t.ReadContext and t.WriteContext with ctx. Handshake code that speaks
// plain io can stay cancellable this way.
func WithContext(ctx context.Context, t *Transport) io.ReadWriter {
	return &ctxReadWriter{ctx: ctx, t: t}
}

type ctxReadWriter struct {
	ctx context.Context
	t   *Transport
}

func (c *ctxReadWriter) Read(p []byte) (int, error) {
	return c.t.ReadContext(c.ctx, p)
}

func (c *ctxReadWriter) Write(p []byte) (int, error) {
	return c.t.WriteContext(c.ctx, p)
}
