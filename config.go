package mailsentry

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/synqronlabs/mailsentry/dns"
	"github.com/synqronlabs/mailsentry/dnsbl"
)

// Config contains configuration options for a Checker. Zero values are
// replaced with defaults by NewChecker.
//
// A Config is read-only once the Checker is created and shared by all runs.
type Config struct {
	// Resolver is used for all DNS lookups.
	// Default: a dns.DNSResolver on the system nameservers with DNSTimeout.
	Resolver dns.Resolver

	// Logger receives the logging of the checker and its lookups.
	// Default: slog.Default()
	Logger *slog.Logger

	// ---- Worker pool ----

	// Workers is the number of lookups and probes that run at the same time,
	// over all runs.
	// Default: 32
	Workers int

	// QueueSize is the number of tasks that can wait for a worker. Submitting
	// blocks while the queue is full.
	// Default: 4 * Workers
	QueueSize int

	// ---- Timeouts ----

	// DNSTimeout bounds each DNS task: a record lookup, a host address lookup,
	// a reverse lookup with its forward confirmation, or a block list lookup.
	// Default: 5 seconds
	DNSTimeout time.Duration

	// SMTPTimeout bounds an SMTP probe, from connect to QUIT.
	// Default: 10 seconds
	SMTPTimeout time.Duration

	// RunTimeout is the deadline of a run. After it expires no new tasks are
	// started. Zero means the default, negative means no deadline.
	// Default: 60 seconds
	RunTimeout time.Duration

	// ---- Checks ----

	// Providers are the DNS block list zones, in report order.
	// Default: dnsbl.Providers
	Providers []string

	// SMTPPort is the port SMTP probes connect to.
	// Default: 25
	SMTPPort int

	// HeloName is the name sent in EHLO when ProbeEHLO is set.
	// Default: "localhost"
	HeloName string

	// ProbeEHLO makes the SMTP probe send EHLO after the greeting to record the
	// advertised extensions, and QUIT.
	ProbeEHLO bool

	// Dial opens probe connections.
	// Default: a net.Dialer
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

const (
	DefaultWorkers     = 32
	DefaultDNSTimeout  = 5 * time.Second
	DefaultSMTPTimeout = 10 * time.Second
	DefaultRunTimeout  = 60 * time.Second
	DefaultSMTPPort    = 25
	DefaultHeloName    = "localhost"
)

// withDefaults returns a copy of c with defaults applied.
func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4 * c.Workers
	}
	if c.DNSTimeout <= 0 {
		c.DNSTimeout = DefaultDNSTimeout
	}
	if c.SMTPTimeout <= 0 {
		c.SMTPTimeout = DefaultSMTPTimeout
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if len(c.Providers) == 0 {
		c.Providers = dnsbl.Providers
	} else {
		c.Providers = append([]string(nil), c.Providers...)
	}
	if c.SMTPPort <= 0 {
		c.SMTPPort = DefaultSMTPPort
	}
	if c.HeloName == "" {
		c.HeloName = DefaultHeloName
	}
	if c.Dial == nil {
		c.Dial = (&net.Dialer{}).DialContext
	}
	if c.Resolver == nil {
		c.Resolver = dns.NewResolver(dns.ResolverConfig{
			Timeout: c.DNSTimeout,
			Logger:  c.Logger,
		})
	}
	return c
}
