package mailsentry

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/synqronlabs/mailsentry/dns"
	"github.com/synqronlabs/mailsentry/iprev"
)

// reverseLookup returns the reverse DNS name of ip without trailing dot, and
// whether the name resolves back to ip. Both are nil when unknown. Failures
// are only logged.
func reverseLookup(ctx context.Context, log *slog.Logger, resolver dns.Resolver, ip net.IP) (name *string, confirmed *bool) {
	result, err := iprev.Lookup(ctx, log, resolver, ip)
	if err != nil {
		log.Debug("reverse lookup failed", slog.Any("ip", ip), slog.Any("status", result.Status), slog.Any("error", err))
	}
	name = optionalString(strings.TrimSuffix(result.First(), "."))
	switch result.Status {
	case iprev.StatusPass:
		confirmed = boolPtr(true)
	case iprev.StatusFail:
		confirmed = boolPtr(false)
	}
	return name, confirmed
}
