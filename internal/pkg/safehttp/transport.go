package safehttp

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// GuardedTransport returns an http.Transport that refuses to connect to any
// address the validator blocks. The check runs in the dialer's Control hook,
// after DNS resolution and before the socket connects, so it applies to every
// resolved address of every attempt, including redirects.
func GuardedTransport(v *Validator) *http.Transport {
	if v == nil {
		v = NewValidator()
	}
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("failed to parse dial address %q: %w", address, err)
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return fmt.Errorf("failed to parse remote IP %q: %w", host, err)
			}
			if v.Blocked(addr) {
				return &RejectionError{Reason: ReasonBlockedAddress, Detail: addr.String()}
			}
			return nil
		},
	}

	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NoRedirect is a CheckRedirect func that returns the 3xx response itself.
func NoRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// NewClient returns an HTTP client for callback delivery. When guard is false
// the transport is a plain clone of http.DefaultTransport. A nil validator
// uses the default denylists. Redirects are never followed.
func NewClient(v *Validator, guard bool) *http.Client {
	var rt http.RoundTripper
	if guard {
		rt = GuardedTransport(v)
	} else {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &http.Client{Transport: rt, CheckRedirect: NoRedirect}
}
