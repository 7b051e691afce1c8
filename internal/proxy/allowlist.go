package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidURL is returned when the target is not an absolute http(s) URL
	ErrInvalidURL = errors.New("invalid url for image proxy")
	// ErrHostNotAllowed is returned when the target host is not on the allow-list
	ErrHostNotAllowed = errors.New("invalid host for image proxy")
)

// AllowList holds the delivery domains the proxy may fetch from.
// A domain matches itself and any of its subdomains.
type AllowList struct {
	domains []string
}

// NewAllowList normalizes the given domains
func NewAllowList(domains ...string) *AllowList {
	a := &AllowList{}
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			a.domains = append(a.domains, d)
		}
	}
	return a
}

// Domains returns the normalized domain list
func (a *AllowList) Domains() []string {
	return append([]string(nil), a.domains...)
}

// Allows reports whether hostname (no port) is allow-listed
func (a *AllowList) Allows(hostname string) bool {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if host == "" {
		return false
	}
	for _, d := range a.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Validate parses raw and checks its host against the allow-list
func (a *AllowList) Validate(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrInvalidURL)
	}
	if !a.Allows(u.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return u, nil
}
