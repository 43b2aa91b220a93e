package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// IPAllowlist is a fixed set of permitted source addresses. It backs the
// webhook endpoint's first gate: payloads from addresses outside the set
// are rejected before any signature work happens.
type IPAllowlist struct {
	ips map[string]struct{}
}

// NewIPAllowlist builds an allowlist from string IPs. Invalid entries are
// dropped. An empty allowlist permits everything (check disabled).
func NewIPAllowlist(ips []string) *IPAllowlist {
	m := make(map[string]struct{}, len(ips))
	for _, raw := range ips {
		raw = strings.TrimSpace(raw)
		if ip := net.ParseIP(raw); ip != nil {
			m[ip.String()] = struct{}{}
		}
	}
	return &IPAllowlist{ips: m}
}

// Empty reports whether the allowlist has no entries.
func (a *IPAllowlist) Empty() bool {
	return len(a.ips) == 0
}

// Contains reports whether addr (an IP, with or without port) is allowed.
// Returns true when the allowlist is empty.
func (a *IPAllowlist) Contains(addr string) bool {
	if a.Empty() {
		return true
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	_, ok := a.ips[ip.String()]
	return ok
}

// ValidateRedirectURL checks that a client-supplied redirect URL is safe to
// hand to the payment provider for onboarding return/refresh flows.
// Blocks private, loopback, link-local, and unspecified IPs to prevent SSRF.
// Both the literal host and DNS-resolved addresses are checked.
func ValidateRedirectURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}

	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	host := u.Hostname()

	// Block known internal hostnames
	blocked := []string{"localhost", "metadata.google.internal", "metadata.google"}
	for _, b := range blocked {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	// Block private/loopback/link-local IP literals
	ip := net.ParseIP(host)
	if ip != nil {
		if err := checkIP(ip); err != nil {
			return err
		}
		return nil // IP literal checked, no DNS resolution needed
	}

	// Resolve hostname and check all resolved IPs
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, ipStr := range ips {
		resolved := net.ParseIP(ipStr)
		if resolved != nil {
			if err := checkIP(resolved); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %v", host, err)
			}
		}
	}

	return nil
}

func checkIP(ip net.IP) error {
	if ip.IsLoopback() {
		return fmt.Errorf("loopback addresses are not allowed")
	}
	if ip.IsPrivate() {
		return fmt.Errorf("private addresses are not allowed")
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return fmt.Errorf("link-local addresses are not allowed")
	}
	if ip.IsUnspecified() {
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
