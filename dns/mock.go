package dns

import (
	"context"
	"fmt"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing.
// Set DNS records in the fields, which map FQDNs (with trailing dot) to values.
// Names without records of any type return ErrDNSNotFound, names with records
// of other types only return ErrDNSNoData.
type MockResolver struct {
	PTR   map[string][]string // Keys are IP addresses, e.g. "10.0.0.1".
	A     map[string][]string
	TXT   map[string][]string
	MX    map[string][]*net.MX
	CNAME map[string][]string

	// Fail contains records that will return a temporary error (SERVFAIL).
	// Format: "type name", e.g. "txt example.com." where type is lowercase.
	Fail []string

	// Timeout contains records, like Fail, that return ErrDNSTimeout.
	Timeout []string

	// Hang contains records, like Fail, whose lookup blocks until the context
	// is done.
	Hang []string
}

var _ Resolver = MockResolver{}

// mockReq represents a mock DNS request.
type mockReq struct {
	Type string // E.g. "txt", "a", "cname", "mx", "ptr"
	Name string // FQDN with trailing dot, or IP for ptr.
}

func (mr mockReq) String() string {
	return mr.Type + " " + mr.Name
}

// check returns the configured failure for a request, if any.
func (r MockResolver) check(ctx context.Context, mr mockReq) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if slices.Contains(r.Hang, mr.String()) {
		<-ctx.Done()
		return fmt.Errorf("%w: %v", ErrDNSTimeout, ctx.Err())
	}
	if slices.Contains(r.Fail, mr.String()) {
		return ErrDNSServFail
	}
	if slices.Contains(r.Timeout, mr.String()) {
		return ErrDNSTimeout
	}
	return nil
}

// exists returns whether the name has records of any type.
func (r MockResolver) exists(fqdn string) bool {
	_, a := r.A[fqdn]
	_, txt := r.TXT[fqdn]
	_, mx := r.MX[fqdn]
	_, cname := r.CNAME[fqdn]
	return a || txt || mx || cname
}

func (r MockResolver) absent(fqdn string) error {
	if r.exists(fqdn) {
		return ErrDNSNoData
	}
	return ErrDNSNotFound
}

// LookupMX returns MX records for the given domain.
func (r MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	fqdn := ensureAbsolute(name)
	if err := r.check(ctx, mockReq{"mx", fqdn}); err != nil {
		return Result[*net.MX]{}, err
	}
	records := r.MX[fqdn]
	if len(records) == 0 {
		return Result[*net.MX]{}, r.absent(fqdn)
	}
	// Callers may modify the records, hand out copies.
	l := make([]*net.MX, len(records))
	for i, mx := range records {
		cp := *mx
		l[i] = &cp
	}
	return Result[*net.MX]{Records: l, Server: "mock"}, nil
}

// LookupA returns A records for the given name.
func (r MockResolver) LookupA(ctx context.Context, name string) (Result[net.IP], error) {
	fqdn := ensureAbsolute(name)
	if err := r.check(ctx, mockReq{"a", fqdn}); err != nil {
		return Result[net.IP]{}, err
	}
	var ips []net.IP
	for _, s := range r.A[fqdn] {
		ip := net.ParseIP(s)
		if ip == nil {
			return Result[net.IP]{}, fmt.Errorf("mock: malformed ip %q", s)
		}
		ips = append(ips, ip)
	}
	if len(ips) == 0 {
		return Result[net.IP]{}, r.absent(fqdn)
	}
	return Result[net.IP]{Records: ips, Server: "mock"}, nil
}

// LookupCNAME returns CNAME records for the given name.
func (r MockResolver) LookupCNAME(ctx context.Context, name string) (Result[string], error) {
	fqdn := ensureAbsolute(name)
	if err := r.check(ctx, mockReq{"cname", fqdn}); err != nil {
		return Result[string]{}, err
	}
	records := r.CNAME[fqdn]
	if len(records) == 0 {
		return Result[string]{}, r.absent(fqdn)
	}
	return Result[string]{Records: slices.Clone(records), Server: "mock"}, nil
}

// LookupTXT returns TXT records for the given name.
func (r MockResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	fqdn := ensureAbsolute(name)
	if err := r.check(ctx, mockReq{"txt", fqdn}); err != nil {
		return Result[string]{}, err
	}
	records := r.TXT[fqdn]
	if len(records) == 0 {
		return Result[string]{}, r.absent(fqdn)
	}
	return Result[string]{Records: slices.Clone(records), Server: "mock"}, nil
}

// LookupAddr performs a reverse DNS lookup.
func (r MockResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}
	ipStr := ip.String()
	if err := r.check(ctx, mockReq{"ptr", ipStr}); err != nil {
		return Result[string]{}, err
	}
	records := r.PTR[ipStr]
	if len(records) == 0 {
		return Result[string]{}, ErrDNSNotFound
	}
	return Result[string]{Records: slices.Clone(records), Server: "mock"}, nil
}
