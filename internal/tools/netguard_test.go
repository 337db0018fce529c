package tools

import (
	"context"
	"errors"
	"net"
	"testing"
)

type staticResolver struct {
	addrs map[string][]net.IPAddr
	err   error
}

func (r staticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.addrs[host], nil
}

func ipAddrs(ips ...string) []net.IPAddr {
	out := make([]net.IPAddr, len(ips))
	for i, s := range ips {
		out[i] = net.IPAddr{IP: net.ParseIP(s)}
	}
	return out
}

func TestCheckHostPublic(t *testing.T) {
	guard := NewNetGuard(staticResolver{addrs: map[string][]net.IPAddr{
		"example.com": ipAddrs("93.184.216.34"),
	}})
	if err := guard.CheckHost(context.Background(), "example.com"); err != nil {
		t.Errorf("public host blocked: %v", err)
	}
}

func TestCheckHostFailsClosed(t *testing.T) {
	tests := []struct {
		name     string
		resolver Resolver
		host     string
	}{
		{"resolver error", staticResolver{err: errors.New("servfail")}, "example.com"},
		{"empty answer", staticResolver{addrs: map[string][]net.IPAddr{}}, "example.com"},
		{"private answer", staticResolver{addrs: map[string][]net.IPAddr{
			"internal.example.com": ipAddrs("10.0.0.5"),
		}}, "internal.example.com"},
		{"mixed public and private", staticResolver{addrs: map[string][]net.IPAddr{
			"tricky.example.com": ipAddrs("93.184.216.34", "192.168.1.1"),
		}}, "tricky.example.com"},
		{"loopback literal", staticResolver{}, "127.0.0.1"},
		{"private literal", staticResolver{}, "172.16.0.1"},
		{"link-local literal", staticResolver{}, "169.254.169.254"},
		{"empty host", staticResolver{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewNetGuard(tt.resolver)
			err := guard.CheckHost(context.Background(), tt.host)
			if !errors.Is(err, ErrResolutionBlocked) {
				t.Errorf("CheckHost(%q) = %v, want ErrResolutionBlocked", tt.host, err)
			}
		})
	}
}

func TestCheckURL(t *testing.T) {
	guard := NewNetGuard(staticResolver{addrs: map[string][]net.IPAddr{
		"example.com": ipAddrs("93.184.216.34"),
	}})

	if err := guard.CheckURL(context.Background(), "https://example.com/page"); err != nil {
		t.Errorf("https URL blocked: %v", err)
	}
	for _, raw := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"https://127.0.0.1/admin",
	} {
		if err := guard.CheckURL(context.Background(), raw); !errors.Is(err, ErrResolutionBlocked) {
			t.Errorf("CheckURL(%q) = %v, want ErrResolutionBlocked", raw, err)
		}
	}
}
