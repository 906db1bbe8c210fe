// Package dns provides the DNS lookups used by the diagnostics engine: a
// Resolver interface with implementations on github.com/miekg/dns and the
// standard library, a mock for tests, and domain name parsing.
//
// Lookup errors are classified with sentinel errors so callers can tell a
// non-existent name (NXDOMAIN) apart from an existing name without records of
// the requested type (NODATA) and from resolver-side failures.
package dns

import (
	"context"
	"errors"
	"net"
)

var (
	ErrDNSNotFound = errors.New("dns: name does not exist")     // NXDOMAIN.
	ErrDNSNoData   = errors.New("dns: no records of that type") // NOERROR without answers.
	ErrDNSTimeout  = errors.New("dns: query timeout")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
)

// Result holds the records of a successful lookup and the nameserver that
// answered. Server is empty for resolvers that don't expose it.
type Result[T any] struct {
	Records []T
	Server  string
}

// Resolver is implemented by DNSResolver, StdResolver and MockResolver.
// Names may be given with or without trailing dot.
type Resolver interface {
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)
	LookupA(ctx context.Context, name string) (Result[net.IP], error)
	LookupCNAME(ctx context.Context, name string) (Result[string], error)
	LookupTXT(ctx context.Context, name string) (Result[string], error)
	LookupAddr(ctx context.Context, ip net.IP) (Result[string], error)
}

// IsNotFound returns whether err indicates the name does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsNoData returns whether err indicates the name exists but has no records
// of the requested type.
func IsNoData(err error) bool {
	return errors.Is(err, ErrDNSNoData)
}

// IsAbsent returns whether err is a definitive negative answer, NXDOMAIN or
// NODATA.
func IsAbsent(err error) bool {
	return IsNotFound(err) || IsNoData(err)
}

// IsTimeout returns whether err is a query timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail returns whether err is a SERVFAIL response.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary returns whether retrying the query later might succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err) || errors.Is(err, ErrDNSRefused)
}
