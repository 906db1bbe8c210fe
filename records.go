package mailsentry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"strings"

	"github.com/synqronlabs/mailsentry/dns"
	mailio "github.com/synqronlabs/mailsentry/io"
)

// Records holds the supporting DNS records of a domain. Lookup failures leave
// a field empty.
type Records struct {
	A     []string
	CNAME []string
	TXT   []string
	SPF   *string // First TXT record starting with "v=spf1".
	DMARC *string // First TXT record at _dmarc starting with "v=DMARC1".
}

// LookupMX returns the deduplicated mail hosts of domain, ordered by
// priority. Any failure, including a domain without usable MX records, is
// returned as *DomainResolutionError.
func LookupMX(ctx context.Context, log *slog.Logger, resolver dns.Resolver, domain dns.Domain) ([]MXHost, error) {
	result, err := resolver.LookupMX(ctx, domain.FQDN())
	if err != nil {
		rerr := &DomainResolutionError{Domain: domain.ASCII, Reason: resolutionReason(err), Err: err}
		log.Debug("mx lookup failed", slog.String("reason", string(rerr.Reason)), slog.Any("error", err))
		return nil, rerr
	}
	hosts := MergeMX(result.Records)
	if len(hosts) == 0 {
		reason := ReasonNoMX
		if len(result.Records) > 0 {
			reason = ReasonNullMX
		}
		return nil, &DomainResolutionError{Domain: domain.ASCII, Reason: reason}
	}
	return hosts, nil
}

func resolutionReason(err error) ResolutionReason {
	switch {
	case dns.IsNotFound(err):
		return ReasonNXDomain
	case dns.IsNoData(err):
		return ReasonNoMX
	case dns.IsTimeout(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonTimeout
	case dns.IsServFail(err):
		return ReasonServFail
	}
	return ReasonError
}

// MergeMX deduplicates MX records by host name, case-insensitively and
// ignoring a trailing dot. A host keeps the lowest priority seen, on equal
// priority the first record wins. The result is ordered by priority, then by
// first appearance. Null MX records (host ".") are dropped.
func MergeMX(records []*net.MX) []MXHost {
	var hosts []MXHost
	index := map[string]int{}
	for _, mx := range records {
		if mx == nil {
			continue
		}
		host := strings.ToLower(strings.TrimSuffix(mx.Host, "."))
		if host == "" {
			continue
		}
		prio := int(mx.Pref)
		if i, ok := index[host]; ok {
			if prio < hosts[i].Priority {
				hosts[i].Priority = prio
			}
			continue
		}
		index[host] = len(hosts)
		hosts = append(hosts, MXHost{Host: host, Priority: prio})
	}
	slices.SortStableFunc(hosts, func(a, b MXHost) int {
		return a.Priority - b.Priority
	})
	return hosts
}

// lookupA returns the IPv4 addresses of name as strings.
func lookupA(ctx context.Context, log *slog.Logger, resolver dns.Resolver, name string) []string {
	result, err := resolver.LookupA(ctx, name)
	if err != nil {
		logRecordFailure(log, "a", name, err)
		return nil
	}
	var l []string
	for _, ip := range result.Records {
		l = append(l, ip.String())
	}
	return l
}

// lookupHostIP returns the first IPv4 address of a mail host, or nil.
func lookupHostIP(ctx context.Context, log *slog.Logger, resolver dns.Resolver, host string) net.IP {
	result, err := resolver.LookupA(ctx, host)
	if err != nil {
		logRecordFailure(log, "a", host, err)
		return nil
	}
	for _, ip := range result.Records {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}

func lookupCNAME(ctx context.Context, log *slog.Logger, resolver dns.Resolver, name string) []string {
	result, err := resolver.LookupCNAME(ctx, name)
	if err != nil {
		logRecordFailure(log, "cname", name, err)
		return nil
	}
	var l []string
	for _, s := range result.Records {
		l = append(l, strings.TrimSuffix(s, "."))
	}
	return l
}

func lookupTXT(ctx context.Context, log *slog.Logger, resolver dns.Resolver, name string) []string {
	result, err := resolver.LookupTXT(ctx, name)
	if err != nil {
		logRecordFailure(log, "txt", name, err)
		return nil
	}
	return result.Records
}

// lookupDMARC returns the DMARC record published at _dmarc.<domain>.
func lookupDMARC(ctx context.Context, log *slog.Logger, resolver dns.Resolver, domain dns.Domain) *string {
	return ExtractDMARC(lookupTXT(ctx, log, resolver, "_dmarc."+domain.FQDN()))
}

func logRecordFailure(log *slog.Logger, typ, name string, err error) {
	log.Debug("record lookup failed",
		slog.String("type", typ),
		slog.String("name", name),
		slog.Bool("absent", dns.IsAbsent(err)),
		slog.Any("error", err))
}

// ExtractSPF returns the first TXT record that is an SPF record, or nil.
func ExtractSPF(txt []string) *string {
	return firstWithVersion(txt, "v=spf1")
}

// ExtractDMARC returns the first TXT record that is a DMARC record, or nil.
func ExtractDMARC(txt []string) *string {
	return firstWithVersion(txt, "v=DMARC1")
}

// firstWithVersion returns the first record starting with version,
// case-insensitively, followed by a space, a semicolon or the end. Leading
// white space is allowed. The record is returned as published, only made
// printable.
func firstWithVersion(txt []string, version string) *string {
	for _, s := range txt {
		t := strings.TrimSpace(s)
		if len(t) < len(version) || !strings.EqualFold(t[:len(version)], version) {
			continue
		}
		if rest := t[len(version):]; rest == "" || rest[0] == ' ' || rest[0] == ';' || rest[0] == '\t' {
			r := mailio.String(s)
			return &r
		}
	}
	return nil
}
