package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricLookup = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mailsentry_dns_lookup_duration_seconds",
		Help:    "DNS lookups by record type and result.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
	},
	[]string{"type", "result"},
)

func metricLookupObserve(typ string, err error, start time.Time) {
	var result string
	switch {
	case err == nil:
		result = "ok"
	case IsNotFound(err):
		result = "nxdomain"
	case IsNoData(err):
		result = "nodata"
	case IsTimeout(err):
		result = "timeout"
	case IsServFail(err):
		result = "servfail"
	case errors.Is(err, context.Canceled):
		result = "canceled"
	default:
		result = "error"
	}
	metricLookup.WithLabelValues(typ, result).Observe(time.Since(start).Seconds())
}

// ResolverConfig contains configuration for the DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g., "8.8.8.8:53").
	// If empty, system resolvers from /etc/resolv.conf are used,
	// falling back to public DNS (8.8.8.8, 1.1.1.1).
	Nameservers []string

	// Timeout is the timeout for a single exchange with one nameserver.
	// Default is 5 seconds. A context deadline, if earlier, takes precedence.
	Timeout time.Duration

	// Logger receives debug logging for each lookup. Default slog.Default().
	Logger *slog.Logger
}

// DNSResolver implements the Resolver interface using github.com/miekg/dns.
// Unlike the standard library it reports NXDOMAIN and NODATA separately.
type DNSResolver struct {
	config    ResolverConfig
	client    *mdns.Client
	tcpClient *mdns.Client
}

// NewResolver creates a new DNS resolver.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
		tcpClient: &mdns.Client{
			Net:     "tcp",
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		// Fallback to common public DNS servers
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		servers = append(servers, net.JoinHostPort(s, config.Port))
	}
	return servers
}

// Config returns the resolver's current configuration.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}

// query performs a single DNS query, trying the configured nameservers in
// order until one gives a definitive answer. There are no retries, but a
// truncated UDP answer is repeated over TCP with the same server.
func (r *DNSResolver) query(ctx context.Context, typ string, name string, qtype uint16) (resp *mdns.Msg, server string, err error) {
	start := time.Now()
	defer func() {
		metricLookupObserve(typ, err, start)
		r.config.Logger.Debug("dns lookup result",
			slog.String("type", typ),
			slog.String("name", name),
			slog.String("server", server),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
	}()

	m := new(mdns.Msg)
	m.SetQuestion(ensureAbsolute(name), qtype)
	m.RecursionDesired = true
	m.SetEdns0(4096, false)

	var lastErr error
	for _, server = range r.config.Nameservers {
		if err := ctx.Err(); err != nil {
			return nil, "", classifyExchangeError(err)
		}

		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err == nil && resp.Truncated {
			r.config.Logger.Debug("dns answer truncated, retrying over tcp",
				slog.String("name", name),
				slog.String("server", server))
			resp, _, err = r.tcpClient.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			lastErr = classifyExchangeError(err)
			continue
		}

		switch resp.Rcode {
		case mdns.RcodeSuccess:
			return resp, server, nil
		case mdns.RcodeNameError:
			return nil, server, ErrDNSNotFound
		case mdns.RcodeServerFailure:
			lastErr = ErrDNSServFail
		case mdns.RcodeRefused:
			lastErr = ErrDNSRefused
		default:
			lastErr = fmt.Errorf("dns: unexpected rcode %s", mdns.RcodeToString[resp.Rcode])
		}
	}
	if lastErr == nil {
		lastErr = ErrDNSServFail
	}
	return nil, "", lastErr
}

// classifyExchangeError maps transport errors to package errors.
func classifyExchangeError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) || errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrDNSTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("dns query failed: %w", err)
}

// LookupMX retrieves MX records for the given domain.
func (r *DNSResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	resp, server, err := r.query(ctx, "mx", name, mdns.TypeMX)
	if err != nil {
		return Result[*net.MX]{Server: server}, err
	}

	var records []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			records = append(records, &net.MX{
				Host: mx.Mx,
				Pref: mx.Preference,
			})
		}
	}
	if len(records) == 0 {
		return Result[*net.MX]{Server: server}, ErrDNSNoData
	}
	return Result[*net.MX]{Records: records, Server: server}, nil
}

// LookupA retrieves the IPv4 addresses for the given name. CNAMEs in the answer
// are followed by the recursive server; only A records are returned.
func (r *DNSResolver) LookupA(ctx context.Context, name string) (Result[net.IP], error) {
	resp, server, err := r.query(ctx, "a", name, mdns.TypeA)
	if err != nil {
		return Result[net.IP]{Server: server}, err
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*mdns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return Result[net.IP]{Server: server}, ErrDNSNoData
	}
	return Result[net.IP]{Records: ips, Server: server}, nil
}

// LookupCNAME retrieves the CNAME targets for the given name. It returns
// ErrDNSNoData if the name exists without CNAME record.
func (r *DNSResolver) LookupCNAME(ctx context.Context, name string) (Result[string], error) {
	resp, server, err := r.query(ctx, "cname", name, mdns.TypeCNAME)
	if err != nil {
		return Result[string]{Server: server}, err
	}

	var targets []string
	for _, rr := range resp.Answer {
		if c, ok := rr.(*mdns.CNAME); ok {
			targets = append(targets, c.Target)
		}
	}
	if len(targets) == 0 {
		return Result[string]{Server: server}, ErrDNSNoData
	}
	return Result[string]{Records: targets, Server: server}, nil
}

// LookupTXT retrieves TXT records for the given name.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	resp, server, err := r.query(ctx, "txt", name, mdns.TypeTXT)
	if err != nil {
		return Result[string]{Server: server}, err
	}

	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			// Character strings of one record are concatenated, RFC 7208 section 3.3.
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	if len(records) == 0 {
		return Result[string]{Server: server}, ErrDNSNoData
	}
	return Result[string]{Records: records, Server: server}, nil
}

// LookupAddr performs a reverse DNS lookup for the given IP address. Names are
// returned absolute, with trailing dot.
func (r *DNSResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}

	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return Result[string]{}, fmt.Errorf("dns: invalid IP for reverse lookup: %w", err)
	}

	resp, server, err := r.query(ctx, "ptr", arpa, mdns.TypePTR)
	if err != nil {
		return Result[string]{Server: server}, err
	}

	var names []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*mdns.PTR); ok {
			names = append(names, ptr.Ptr)
		}
	}
	if len(names) == 0 {
		return Result[string]{Server: server}, ErrDNSNoData
	}
	return Result[string]{Records: names, Server: server}, nil
}
