package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/culvert-proxy/culvert/internal/dialer"
	"github.com/culvert-proxy/culvert/internal/forward"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen = pflag.String("listen", "127.0.0.1:11080", "Local listen address; each accepted connection is forwarded to --target through the proxy")
		target = pflag.String("target", "", "Target host:port reached through the proxy (e.g. imap.example.com:993)")

		proxyURL = pflag.String("proxy", defaultProxy(), "Proxy URL: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks4://[user@]host:port | socks4a://[user@]host:port | socks5://[user:pass@]host:port")

		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for DNS lookup and TCP connect to the proxy")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for each read/write of the proxy handshake")
		dnsServer          = pflag.String("dns-server", "", "DNS server (host[:port]) for name resolution; empty uses the system resolver")
		localAddr          = pflag.String("local-addr", "", "Local address to bind outbound connections to")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		verbose            = pflag.Bool("verbose", false, "Enable per-connection error logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if *target == "" {
		return errors.New("missing --target host:port")
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	var la *net.TCPAddr
	if *localAddr != "" {
		la, err = net.ResolveTCPAddr("tcp", net.JoinHostPort(*localAddr, "0"))
		if err != nil {
			return fmt.Errorf("invalid --local-addr: %w", err)
		}
	}

	cfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		LocalAddr:          la,
		DNSServer:          *dnsServer,
	}

	d, err := dialer.New(cfg, *proxyURL)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := forward.ListenTCP(ctx, "tcp", *listen, ka)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	srv := forward.NewServer(forward.Config{
		Target:  *target,
		Dialer:  d,
		Verbose: *verbose,
	})

	g.Go(func() error {
		if err := srv.Serve(ctx, ln); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	log.Printf("forwarding %s to %s via %s", *listen, *target, *proxyURL)

	err = g.Wait()

	log.Print("shutting down")
	return err
}

// parseTCPKeepAlive accepts "on", "off", or "keepidle:keepintvl:keepcnt"
// with the first two fields in seconds.
func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	switch s = strings.TrimSpace(strings.ToLower(s)); s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}

	var vals [3]int
	for i, name := range [3]string{"keepidle", "keepintvl", "keepcnt"} {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: %w", name, err)
		}
		if n <= 0 {
			return net.KeepAliveConfig{}, fmt.Errorf("%s: must be > 0", name)
		}
		vals[i] = n
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(vals[0]) * time.Second,
		Interval: time.Duration(vals[1]) * time.Second,
		Count:    vals[2],
	}, nil
}

// defaultProxy honors the conventional ALL_PROXY environment variables,
// falling back to a direct connection.
func defaultProxy() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
