package connector

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// dnsResolver queries an explicit DNS server for A and AAAA records rather
// than going through the system resolver. IPv4 addresses are ordered first.
type dnsResolver struct {
	server string
	client dns.Client
}

func newDNSResolver(server string) *dnsResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &dnsResolver{server: server}
}

func (r *dnsResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	var firstErr error

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				ips = append(ips, rr.A)
			case *dns.AAAA:
				ips = append(ips, rr.AAAA)
			}
		}
	}

	if len(ips) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, firstErr)
		}
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	return ips, nil
}
