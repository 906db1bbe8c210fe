// Package iprev checks whether an IP address has a reverse DNS name and
// whether that name resolves back to the address (forward-confirmed reverse
// DNS, RFC 8601 section 3).
package iprev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/synqronlabs/mailsentry/dns"
)

var metricLookup = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mailsentry_iprev_lookup_duration_seconds",
		Help:    "Reverse DNS lookups by status.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
	},
	[]string{"status"},
)

var (
	ErrNoRecord = errors.New("iprev: no reverse dns record")
	ErrDNS      = errors.New("iprev: dns lookup")
)

// Status is the result of a lookup.
type Status string

const (
	StatusPass      Status = "pass"      // A reverse name resolves back to the IP.
	StatusFail      Status = "fail"      // Reverse names exist, none resolves back to the IP.
	StatusTemperror Status = "temperror" // E.g. DNS timeout or server failure.
	StatusPermerror Status = "permerror" // E.g. no PTR record, or a lookup error that won't go away by retrying.
)

// Result holds the outcome of a Lookup. Names are absolute, with trailing dot.
type Result struct {
	Status Status
	Name   string   // First name that resolved back to the IP, if any.
	Names  []string // All PTR names, in the order returned.
}

// First returns the matching name if there is one, otherwise the first PTR
// name. Empty if no PTR records were found.
func (r Result) First() string {
	if r.Name != "" {
		return r.Name
	}
	if len(r.Names) > 0 {
		return r.Names[0]
	}
	return ""
}

// Lookup does a PTR lookup for ip and forward resolves the returned names
// until one of them has ip as address. Only IPv4 forward lookups are done.
//
// The returned error is set for StatusPermerror and StatusTemperror.
func Lookup(ctx context.Context, log *slog.Logger, resolver dns.Resolver, ip net.IP) (rresult Result, rerr error) {
	start := time.Now()
	defer func() {
		metricLookup.WithLabelValues(string(rresult.Status)).Observe(time.Since(start).Seconds())
		log.Debug("iprev lookup result",
			slog.Any("ip", ip),
			slog.Any("status", rresult.Status),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", rerr))
	}()

	rev, err := resolver.LookupAddr(ctx, ip)
	if dns.IsAbsent(err) {
		return Result{Status: StatusPermerror}, ErrNoRecord
	} else if err != nil {
		return Result{Status: errorStatus(err)}, fmt.Errorf("%w: %v", ErrDNS, err)
	}

	var lastErr error
	for _, name := range rev.Records {
		fwd, err := resolver.LookupA(ctx, name)
		for _, fwdIP := range fwd.Records {
			if ip.Equal(fwdIP) {
				return Result{Status: StatusPass, Name: name, Names: rev.Records}, nil
			}
		}
		if err != nil && !dns.IsAbsent(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return Result{Status: errorStatus(lastErr), Names: rev.Records}, fmt.Errorf("%w: %v", ErrDNS, lastErr)
	}
	return Result{Status: StatusFail, Names: rev.Records}, nil
}

func errorStatus(err error) Status {
	if dns.IsTemporary(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StatusTemperror
	}
	return StatusPermerror
}
