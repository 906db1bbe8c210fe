// Package dnsbl implements DNS block list lookups (RFC 5782) for checking the
// reputation of a mail server IP address.
//
// A DNS block list is queried using DNS "A" lookups below a "zone", e.g.
// "zen.spamhaus.org". For 192.0.2.10 the name
// "10.2.0.192.zen.spamhaus.org." is looked up. If the name does not exist the
// IP is not listed. If an address in 127.0.0.0/8 is returned the IP is listed.
// Anything else, including resolver failures, gives no definitive answer.
//
// The health of a zone can be checked through a lookup of 127.0.0.1 (must not
// be present) and 127.0.0.2 (must be present).
package dnsbl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/synqronlabs/mailsentry/dns"
)

var metricLookup = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mailsentry_dnsbl_lookup_duration_seconds",
		Help:    "DNSBL lookups by zone and status.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
	},
	[]string{"zone", "status"},
)

var (
	ErrDNS         = errors.New("dnsbl: dns error")
	ErrNotIPv4     = errors.New("dnsbl: not an ipv4 address")
	ErrBadResponse = errors.New("dnsbl: unexpected response")
	ErrQueryError  = errors.New("dnsbl: zone returned a query error code")
)

// Status is the result of a DNSBL lookup.
type Status string

const (
	StatusListed    Status = "listed"
	StatusNotListed Status = "notlisted"
	StatusUnknown   Status = "unknown" // No definitive answer, see the returned error.
)

// Providers is the default list of zones, in the order they are reported.
// It must not be modified.
var Providers = []string{
	"zen.spamhaus.org",
	"b.barracudacentral.org",
	"dnsbl.sorbs.net",
	"bl.spamcop.net",
	"dnsbl-1.uceprotect.net",
	"cbl.abuseat.org",
	"dnsbl.dronebl.org",
	"psbl.surriel.com",
	"rbl.efnetrbl.org",
}

// QueryName returns the name to look up for ip in zone, with trailing dot.
// Only IPv4 addresses are supported.
func QueryName(zone string, ip net.IP) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", ErrNotIPv4
	}
	b := &strings.Builder{}
	for i := len(v4) - 1; i >= 0; i-- {
		b.WriteString(strconv.Itoa(int(v4[i])))
		b.WriteByte('.')
	}
	b.WriteString(strings.TrimSuffix(zone, "."))
	b.WriteByte('.')
	return b.String(), nil
}

// Lookup checks if ip occurs in the DNS block list zone. If the returned
// status is StatusUnknown, err describes why.
func Lookup(ctx context.Context, log *slog.Logger, resolver dns.Resolver, zone string, ip net.IP) (rstatus Status, rerr error) {
	start := time.Now()
	defer func() {
		metricLookup.WithLabelValues(zone, string(rstatus)).Observe(time.Since(start).Seconds())
		log.Debug("dnsbl lookup result",
			slog.String("zone", zone),
			slog.Any("ip", ip),
			slog.Any("status", rstatus),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", rerr))
	}()

	name, err := QueryName(zone, ip)
	if err != nil {
		return StatusUnknown, err
	}

	result, err := resolver.LookupA(ctx, name)
	if dns.IsAbsent(err) {
		return StatusNotListed, nil
	} else if err != nil {
		return StatusUnknown, fmt.Errorf("%w: %v", ErrDNS, err)
	}
	return interpret(result.Records)
}

// interpret classifies the addresses returned for a listed name. Zones return
// 127.0.0.0/8 addresses for listings. Spamhaus-style zones use
// 127.255.255.0/24 for errors such as queries through public resolvers.
func interpret(ips []net.IP) (Status, error) {
	var bad net.IP
	for _, ip := range ips {
		v4 := ip.To4()
		switch {
		case v4 == nil || v4[0] != 127:
			bad = ip
		case v4[1] == 255 && v4[2] == 255:
			return StatusUnknown, fmt.Errorf("%w: %s", ErrQueryError, v4)
		default:
			return StatusListed, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: %s", ErrBadResponse, bad)
}

// CheckHealth checks whether the zone is operating correctly by querying for
// 127.0.0.2 (must be present) and 127.0.0.1 (must not be present).
func CheckHealth(ctx context.Context, log *slog.Logger, resolver dns.Resolver, zone string) error {
	// RFC 5782 section 5.
	status1, err1 := Lookup(ctx, log, resolver, zone, net.IPv4(127, 0, 0, 1))
	status2, err2 := Lookup(ctx, log, resolver, zone, net.IPv4(127, 0, 0, 2))
	if status1 == StatusNotListed && status2 == StatusListed {
		return nil
	} else if status1 == StatusListed {
		return fmt.Errorf("dnsbl contains unwanted test address 127.0.0.1")
	} else if status2 == StatusNotListed {
		return fmt.Errorf("dnsbl does not contain required test address 127.0.0.2")
	}
	if err1 != nil {
		return err1
	} else if err2 != nil {
		return err2
	}
	return ErrDNS
}
