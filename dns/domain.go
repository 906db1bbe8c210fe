package dns

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmptyDomain   = errors.New("dns: empty domain")
	ErrDomainSyntax  = errors.New("dns: invalid domain syntax")
	ErrDomainTooLong = errors.New("dns: domain too long")
)

// Domain is a domain name with at least an ASCII representation, and for IDNA
// non-ASCII domains a unicode representation. The ASCII name must be used for
// DNS lookups.
type Domain struct {
	// Lower-case name with A-labels (xn--...) for internationalized labels.
	ASCII string

	// Name as U-labels. Empty if this is an ASCII-only domain.
	Unicode string
}

// String returns both names for IDNA domains, for logging.
func (d Domain) String() string {
	if d.Unicode == "" {
		return d.ASCII
	}
	return d.Unicode + "/" + d.ASCII
}

// FQDN returns the ASCII name with trailing dot.
func (d Domain) FQDN() string {
	return d.ASCII + "."
}

// ParseDomain parses and validates a host name as typed by a user. Names are
// IDN-canonicalized and lower-cased. A single trailing dot is accepted.
// Protocol prefixes, whitespace, paths, ports, email addresses and single-label
// names are rejected.
func ParseDomain(s string) (Domain, error) {
	if s == "" {
		return Domain{}, ErrEmptyDomain
	}
	if strings.Contains(s, "://") {
		return Domain{}, fmt.Errorf("%w: protocol prefix not allowed", ErrDomainSyntax)
	}
	if strings.ContainsAny(s, " \t\r\n/@:") {
		return Domain{}, fmt.Errorf("%w: unexpected character", ErrDomainSyntax)
	}
	s = strings.TrimSuffix(s, ".")

	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return Domain{}, fmt.Errorf("%w: %v", ErrDomainSyntax, err)
	}
	unicode, err := idna.Lookup.ToUnicode(s)
	if err != nil {
		return Domain{}, fmt.Errorf("%w: %v", ErrDomainSyntax, err)
	}
	if len(ascii) > 253 {
		return Domain{}, ErrDomainTooLong
	}
	labels := strings.Split(ascii, ".")
	if len(labels) < 2 {
		return Domain{}, fmt.Errorf("%w: need at least two labels", ErrDomainSyntax)
	}
	for _, l := range labels {
		if l == "" || len(l) > 63 {
			return Domain{}, fmt.Errorf("%w: bad label length", ErrDomainSyntax)
		}
	}
	if ascii == unicode {
		return Domain{ascii, ""}, nil
	}
	return Domain{ascii, unicode}, nil
}

// ensureAbsolute ensures the name ends with a dot.
func ensureAbsolute(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
