// Package forward implements the local port forwarder: it accepts plain
// TCP connections and pipes each one to a fixed target through the
// configured proxy dialer.
package forward

import (
	"context"
	"errors"
	"log"
	"net"

	"github.com/culvert-proxy/culvert/internal/dialer"
)

type Config struct {
	// Target is the host:port every accepted connection is forwarded to.
	Target string

	// Dialer establishes the tunnel to Target.
	Dialer dialer.Dialer

	// Verbose enables per-connection error logging.
	Verbose bool
}

type Server struct {
	cfg Config
}

func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Serve accepts connections from ln until it is closed or ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		go func() {
			if err := s.handle(ctx, c); err != nil && s.cfg.Verbose {
				log.Printf("forward %s: %v", c.RemoteAddr(), err)
			}
		}()
	}
}

func (s *Server) handle(ctx context.Context, c net.Conn) error {
	defer c.Close()

	t, err := s.cfg.Dialer.DialContext(ctx, "tcp", s.cfg.Target)
	if err != nil {
		return err
	}

	return CopyBidirectional(ctx, c, t)
}
