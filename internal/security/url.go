package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// maxRedirects bounds redirect chains followed by clients that use
// [URL.ValidateRedirect].
const maxRedirects = 10

// URL rejects fetch targets that would let a model-directed request
// reach internal infrastructure.
//
// Blocked targets:
//   - loopback (127.0.0.0/8, ::1)
//   - private ranges (RFC 1918 and their IPv6 equivalents)
//   - link-local (169.254.0.0/16, fe80::/10), which covers the cloud
//     metadata endpoint 169.254.169.254
//   - well-known metadata hostnames and localhost
//
// [URL.Validate] checks what it can statically; [URL.SafeTransport]
// repeats the check on every resolved address at dial time.
type URL struct {
	allowedSchemes map[string]struct{}
	blockedHosts   map[string]struct{}
}

// NewURL creates a URL validator with the default block lists.
func NewURL() *URL {
	return &URL{
		allowedSchemes: map[string]struct{}{
			"http":  {},
			"https": {},
		},
		blockedHosts: map[string]struct{}{
			"localhost":                {},
			"metadata.google.internal": {},
			"metadata.gce.internal":    {},
			"metadata.internal":        {},
		},
	}
}

// Validate checks whether a URL is safe to fetch. Literal addresses
// are checked here; plain hostnames pass and are re-checked against
// their resolved addresses by [URL.SafeTransport].
func (v *URL) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if _, ok := v.allowedSchemes[strings.ToLower(u.Scheme)]; !ok {
		return fmt.Errorf("unsupported scheme: %s (allowed: http, https)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	return v.checkHost(host)
}

func (v *URL) checkHost(host string) error {
	if _, blocked := v.blockedHosts[strings.ToLower(host)]; blocked {
		return fmt.Errorf("blocked host: %s", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return v.checkAddr(addr)
	}
	return nil
}

func (v *URL) checkAddr(addr netip.Addr) error {
	// Normalize IPv6-mapped IPv4 (::ffff:127.0.0.1 -> 127.0.0.1).
	addr = addr.Unmap()

	switch {
	case addr.IsLoopback():
		return fmt.Errorf("loopback address not allowed: %s", addr)
	case addr.IsPrivate():
		return fmt.Errorf("private address not allowed: %s", addr)
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address not allowed: %s", addr)
	case addr.IsUnspecified():
		return fmt.Errorf("unspecified address not allowed: %s", addr)
	}
	return nil
}

// SafeTransport returns a transport whose dialer validates every
// resolved address before connecting. This closes the DNS-rebinding
// gap that static validation leaves open: a hostname that passed
// Validate cannot later resolve to a private address unnoticed.
func (v *URL) SafeTransport() *http.Transport {
	return &http.Transport{
		DialContext:         v.safeDialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func (v *URL) safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if err := v.checkAddr(ip); err != nil {
			return nil, fmt.Errorf("request blocked: %w", err)
		}
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed: %w", err)
	}
	for _, ip := range addrs {
		if err := v.checkAddr(ip); err != nil {
			return nil, fmt.Errorf("request blocked (%s resolves to %s): %w", host, ip, err)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses resolved for %s", host)
	}

	// Dial the first vetted address so the check and the connection
	// use the same IP.
	target := addrs[0].Unmap().String()
	if port != "" {
		target = net.JoinHostPort(target, port)
	}
	return (&net.Dialer{}).DialContext(ctx, network, target)
}

// ValidateRedirect re-validates each redirect hop and bounds the chain
// length. Assign it to http.Client.CheckRedirect.
func (v *URL) ValidateRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return v.Validate(req.URL.String())
}
