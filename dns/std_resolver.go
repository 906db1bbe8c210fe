package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StdResolver implements the Resolver interface using the standard library net package.
// The standard library does not distinguish NXDOMAIN from NODATA: both are
// reported as ErrDNSNotFound.
type StdResolver struct {
	resolver *net.Resolver
}

// NewStdResolver creates a resolver using the standard library.
func NewStdResolver() *StdResolver {
	return &StdResolver{
		resolver: &net.Resolver{StrictErrors: true},
	}
}

// LookupMX retrieves MX records using the standard library.
func (r *StdResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	records, err := r.resolver.LookupMX(ctx, strings.TrimSuffix(name, "."))
	if err != nil {
		return Result[*net.MX]{}, convertError(err)
	}
	if len(records) == 0 {
		return Result[*net.MX]{}, ErrDNSNoData
	}
	return Result[*net.MX]{Records: records}, nil
}

// LookupA retrieves IPv4 addresses using the standard library.
func (r *StdResolver) LookupA(ctx context.Context, name string) (Result[net.IP], error) {
	ips, err := r.resolver.LookupIP(ctx, "ip4", strings.TrimSuffix(name, "."))
	if err != nil {
		return Result[net.IP]{}, convertError(err)
	}
	if len(ips) == 0 {
		return Result[net.IP]{}, ErrDNSNoData
	}
	return Result[net.IP]{Records: ips}, nil
}

// LookupCNAME returns the canonical name. The standard library returns the
// queried name itself when there is no CNAME record, which is reported as
// ErrDNSNoData.
func (r *StdResolver) LookupCNAME(ctx context.Context, name string) (Result[string], error) {
	name = ensureAbsolute(name)
	cname, err := r.resolver.LookupCNAME(ctx, strings.TrimSuffix(name, "."))
	if err != nil {
		return Result[string]{}, convertError(err)
	}
	cname = ensureAbsolute(cname)
	if strings.EqualFold(cname, name) {
		return Result[string]{}, ErrDNSNoData
	}
	return Result[string]{Records: []string{cname}}, nil
}

// LookupTXT retrieves TXT records using the standard library.
func (r *StdResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	records, err := r.resolver.LookupTXT(ctx, strings.TrimSuffix(name, "."))
	if err != nil {
		return Result[string]{}, convertError(err)
	}
	if len(records) == 0 {
		return Result[string]{}, ErrDNSNoData
	}
	return Result[string]{Records: records}, nil
}

// LookupAddr performs a reverse DNS lookup using the standard library.
func (r *StdResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}

	names, err := r.resolver.LookupAddr(ctx, ip.String())
	if err != nil {
		return Result[string]{}, convertError(err)
	}
	if len(names) == 0 {
		return Result[string]{}, ErrDNSNoData
	}

	// Ensure names are absolute (with trailing dot)
	for i, name := range names {
		names[i] = ensureAbsolute(name)
	}
	return Result[string]{Records: names}, nil
}

// convertError converts standard library DNS errors to package errors.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return fmt.Errorf("%w: %s", ErrDNSNotFound, dnsErr.Name)
		}
		if dnsErr.IsTimeout {
			return fmt.Errorf("%w: %s", ErrDNSTimeout, dnsErr.Name)
		}
		if dnsErr.IsTemporary {
			return fmt.Errorf("%w: %s", ErrDNSServFail, dnsErr.Name)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDNSTimeout, err)
	}
	return fmt.Errorf("dns lookup failed: %w", err)
}
