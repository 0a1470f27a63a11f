package webhook

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidURL is returned by ValidateURL.
var ErrInvalidURL = errors.New("invalid webhook url")

// Policy controls which webhook targets are accepted.
type Policy struct {
	// AllowInsecure permits plain http targets (local development).
	AllowInsecure bool
}

// ValidateURL accepts absolute https URLs whose host is a dotted DNS name.
// IP literals are rejected.
func (p Policy) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !p.AllowInsecure {
			return fmt.Errorf("%w: scheme must be https", ErrInvalidURL)
		}
	default:
		return fmt.Errorf("%w: scheme must be https", ErrInvalidURL)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials are not allowed", ErrInvalidURL)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if net.ParseIP(host) != nil {
		return fmt.Errorf("%w: host must be a DNS name", ErrInvalidURL)
	}
	if p.AllowInsecure && host == "localhost" {
		return nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.Contains(strings.Trim(ascii, "."), ".") {
		return fmt.Errorf("%w: host must be fully qualified", ErrInvalidURL)
	}
	return nil
}

// ValidateURL applies the default https-only policy.
func ValidateURL(raw string) error { return Policy{}.ValidateURL(raw) }
