package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are servers queried when the system resolver fails.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
}

var errNoAddresses = errors.New("no IP addresses found")

// HostResolver is satisfied by *net.Resolver.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolver resolves host names, falling back to a race across public DNS
// servers when the system resolver fails.
type Resolver struct {
	// System is tried first. Nil uses net.DefaultResolver.
	System HostResolver

	// Fallback lists DNS servers (host or [v6]) queried on port 53.
	Fallback []string

	// LocalTimeout and FallbackTimeout bound each phase.
	LocalTimeout    time.Duration
	FallbackTimeout time.Duration
}

// Default is the resolver used by Lookup.
var Default = &Resolver{
	Fallback:        publicDNS,
	LocalTimeout:    time.Second,
	FallbackTimeout: 2 * time.Second,
}

// Lookup resolves host with the Default resolver.
func Lookup(ctx context.Context, host string) (string, error) {
	return Default.Lookup(ctx, host)
}

// Lookup resolves host to a single IP, preferring IPv4.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	ip, err := r.local(ctx, host)
	if err == nil {
		return ip, nil
	}
	if len(r.Fallback) == 0 {
		return "", err
	}
	return r.race(ctx, host)
}

func (r *Resolver) local(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(r.LocalTimeout, time.Second))
	defer cancel()

	var sys HostResolver = net.DefaultResolver
	if r.System != nil {
		sys = r.System
	}

	ips, err := sys.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return preferIPv4(ips)
}

// race queries every fallback server concurrently and returns the first
// answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(r.FallbackTimeout, 2*time.Second))
	defer cancel()

	results := make(chan result, len(r.Fallback))
	for _, server := range r.Fallback {
		go func(server string) {
			ip, err := queryServer(ctx, host, server)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range r.Fallback {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("dns lookup for %s timed out during public DNS race", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

// queryServer asks one DNS server directly.
func queryServer(ctx context.Context, host, server string) (string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return preferIPv4(ips)
}

func preferIPv4(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errNoAddresses
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
