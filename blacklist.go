package mailsentry

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/synqronlabs/mailsentry/dns"
	"github.com/synqronlabs/mailsentry/dnsbl"
)

var errNotChecked = errors.New("not checked: run deadline reached")

// checkBlacklist looks up ip in zone. Only a definitive answer sets Listed.
func checkBlacklist(ctx context.Context, log *slog.Logger, resolver dns.Resolver, zone string, ip net.IP) BlacklistResult {
	status, err := dnsbl.Lookup(ctx, log, resolver, zone, ip)
	switch status {
	case dnsbl.StatusListed:
		return newBlacklistResult(zone, boolPtr(true), nil)
	case dnsbl.StatusNotListed:
		return newBlacklistResult(zone, boolPtr(false), nil)
	}
	return newBlacklistResult(zone, nil, err)
}

// uncheckedBlacklists returns unknown results for all zones, with err as
// reason. Used for hosts without IPv4 address and tasks that never ran.
func uncheckedBlacklists(zones []string, err error) []BlacklistResult {
	l := make([]BlacklistResult, len(zones))
	for i, zone := range zones {
		l[i] = newBlacklistResult(zone, nil, err)
	}
	return l
}
