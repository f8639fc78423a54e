package security

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// EgressPolicy governs outbound WEB_FETCH requests.
type EgressPolicy struct {
	BlockPrivateIP    bool
	AllowRedirects    int
	MaxPayloadBytes   int64
	EnforceTLS        bool
	DenylistHosts     []string
	AllowlistHosts    []string // empty means allow all, subject to other checks
}

// DefaultEgressPolicy mirrors the original reference defaults.
func DefaultEgressPolicy() EgressPolicy {
	return EgressPolicy{
		BlockPrivateIP:  true,
		AllowRedirects:  3,
		MaxPayloadBytes: 5 * 1024 * 1024,
		EnforceTLS:      true,
	}
}

var privateCIDRs = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16", // link-local
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate() {
		return true
	}
	for _, n := range privateCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckURLAllowed validates url against policy, resolving the host to catch
// DNS-rebinding attempts at private IPs. It performs no network fetch.
func CheckURLAllowed(ctx context.Context, rawURL string, policy EgressPolicy) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisallowedScheme, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrDisallowedScheme
	}
	if policy.EnforceTLS && parsed.Scheme != "https" {
		return ErrTLSRequired
	}
	host := parsed.Hostname()
	if host == "" {
		return ErrMissingHost
	}
	for _, d := range policy.DenylistHosts {
		if d == host {
			return ErrHostDenied
		}
	}
	if len(policy.AllowlistHosts) > 0 {
		allowed := false
		for _, a := range policy.AllowlistHosts {
			if a == host {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrHostNotAllowed
		}
	}
	if policy.BlockPrivateIP {
		resolver := &net.Resolver{}
		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDNSResolution, err)
		}
		for _, a := range addrs {
			if isPrivateIP(a.IP) {
				return ErrPrivateIPBlocked
			}
		}
	}
	return nil
}

// DialTimeout is the suggested per-fetch connect timeout, separate from the
// overall tool timeout the registry applies.
const DialTimeout = 10 * time.Second
