package dialer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/culvert-proxy/culvert/internal/proxyerr"
	"github.com/culvert-proxy/culvert/internal/transport"
)

// Dialer mirrors the net.Dialer interface, returning a ready tunnel to the
// requested target.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (*transport.Transport, error)
}

// New parses proxyURL and constructs the appropriate Dialer.
//
// Supported schemes:
//   - direct://
//   - http://[user:pass@]host:port
//   - https://[user:pass@]host:port
//   - socks4://[user@]host:port
//   - socks4a://[user@]host:port
//   - socks5://[user:pass@]host:port
//
// A missing or zero port selects the scheme's default. Unrecognized
// schemes fail with *proxyerr.SchemeError.
func New(cfg Config, proxyURL string) (Dialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid proxy url: path should be empty")
	}

	switch u.Scheme {
	case "":
		return nil, errors.New("invalid proxy url: missing scheme")
	case "direct":
		return NewDirectDialer(cfg), nil
	case "http", "https", "socks4", "socks4a", "socks5":
	default:
		return nil, &proxyerr.SchemeError{Scheme: u.Scheme}
	}

	host := u.Hostname()
	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url port %q: %w", p, err)
		}
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	switch u.Scheme {
	case "http":
		return NewHTTPProxyDialer(cfg, host, port, user, pass, false)
	case "https":
		return NewHTTPProxyDialer(cfg, host, port, user, pass, true)
	case "socks4":
		return NewSOCKS4ProxyDialer(cfg, host, port, user, false)
	case "socks4a":
		return NewSOCKS4ProxyDialer(cfg, host, port, user, true)
	case "socks5":
		return NewSOCKS5ProxyDialer(cfg, host, port, user, pass)
	default:
		return nil, &proxyerr.SchemeError{Scheme: u.Scheme}
	}
}

// Dial is DialContext with a background context.
func Dial(d Dialer, network, address string) (*transport.Transport, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialTimeout bounds DialContext with a per-call deadline derived from ctx.
// Expiry of the derived deadline surfaces as context.DeadlineExceeded,
// distinguishable from cancellation of ctx itself.
func DialTimeout(ctx context.Context, d Dialer, network, address string, timeout time.Duration) (*transport.Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DialContext(ctx, network, address)
}
