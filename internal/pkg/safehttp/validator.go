// Package safehttp guards outbound HTTP requests against server-side request
// forgery: a pure URL validator applied when a callback target is accepted, and
// a dial-time guard applied to every connection the callback client makes.
package safehttp

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// Reason is the closed set of rejection causes.
type Reason string

const (
	ReasonMalformedURL      Reason = "malformed URL"
	ReasonUnsupportedScheme Reason = "unsupported scheme"
	ReasonMissingHostname   Reason = "missing hostname"
	ReasonBlockedHostname   Reason = "blocked hostname"
	ReasonBlockedAddress    Reason = "blocked address"
)

// RejectionError reports why a URL or connection was refused.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// DefaultBlockedHosts are hostnames that are never valid callback targets.
// A hostname also matches when it is a subdomain of an entry.
var DefaultBlockedHosts = []string{
	"localhost",
	"metadata.google.internal",
	"169.254.169.254",
}

// DefaultBlockedPrefixes are the address ranges a callback may not reach.
var DefaultBlockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Validator checks callback URLs. The zero value is not usable; use NewValidator.
type Validator struct {
	hosts    []string
	prefixes []netip.Prefix
}

// NewValidator returns a validator using the default denylists plus any extra
// hostnames supplied by configuration.
func NewValidator(extraHosts ...string) *Validator {
	hosts := make([]string, 0, len(DefaultBlockedHosts)+len(extraHosts))
	for _, h := range append(append([]string{}, DefaultBlockedHosts...), extraHosts...) {
		h = normalizeHost(h)
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Validator{
		hosts:    hosts,
		prefixes: DefaultBlockedPrefixes,
	}
}

// Validate reports whether rawURL is an acceptable callback target. It performs
// no network I/O: a hostname that only resolves to a blocked address passes
// here and is refused by GuardedTransport at connection time instead.
func (v *Validator) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return &RejectionError{Reason: ReasonMalformedURL, Detail: rawURL}
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return &RejectionError{Reason: ReasonUnsupportedScheme, Detail: u.Scheme}
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return &RejectionError{Reason: ReasonMissingHostname}
	}

	for _, blocked := range v.hosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return &RejectionError{Reason: ReasonBlockedHostname, Detail: host}
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if v.Blocked(addr) {
			return &RejectionError{Reason: ReasonBlockedAddress, Detail: addr.String()}
		}
	}

	return nil
}

// Blocked reports whether addr falls in a denylisted range. IPv4-mapped IPv6
// addresses are checked as IPv4.
func (v *Validator) Blocked(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range v.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
