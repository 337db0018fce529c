package tools

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// Resolver is the lookup seam for the network guard. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NetGuard vets user-supplied network targets before an adapter dials
// them. Resolution failures, empty answers, and answers pointing into
// private or special-purpose ranges all fail closed: the adapter never
// proceeds past an ambiguous resolution.
type NetGuard struct {
	resolver Resolver
}

// NewNetGuard creates a guard using the system resolver when resolver
// is nil.
func NewNetGuard(resolver Resolver) *NetGuard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &NetGuard{resolver: resolver}
}

// CheckURL vets the host of a user-supplied URL. Only http and https
// schemes are permitted.
func (g *NetGuard) CheckURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: unparseable url: %v", ErrResolutionBlocked, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrResolutionBlocked, u.Scheme)
	}
	return g.CheckHost(ctx, u.Hostname())
}

// CheckHost resolves host and verifies every answer is a global
// unicast address.
func (g *NetGuard) CheckHost(ctx context.Context, host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrResolutionBlocked)
	}

	// Literal IPs skip resolution but still get range checks.
	if ip := net.ParseIP(host); ip != nil {
		if !publicIP(ip) {
			return fmt.Errorf("%w: %s is not a public address", ErrResolutionBlocked, host)
		}
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrResolutionBlocked, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s resolved to no addresses", ErrResolutionBlocked, host)
	}
	for _, addr := range addrs {
		if !publicIP(addr.IP) {
			return fmt.Errorf("%w: %s resolves to non-public address %s", ErrResolutionBlocked, host, addr.IP)
		}
	}
	return nil
}

func publicIP(ip net.IP) bool {
	if !ip.IsGlobalUnicast() {
		return false
	}
	return !ip.IsPrivate()
}
