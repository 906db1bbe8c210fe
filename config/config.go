// Package config holds the configuration file of the mailsentry command, in
// sconf format.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mjl-/sconf"

	"github.com/synqronlabs/mailsentry"
	"github.com/synqronlabs/mailsentry/dns"
	"github.com/synqronlabs/mailsentry/dnsbl"
)

var ErrInvalid = errors.New("config: invalid value")

// Static is the parsed configuration file. Zero values for optional fields
// mean the default.
type Static struct {
	LogLevel    string   `sconf:"optional" sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nLog level, one of: debug, info, warn, error. Default: info."`
	Listen      string   `sconf:"optional" sconf-doc:"Address for the HTTP API and metrics, e.g. 127.0.0.1:5001. Default: :5001."`
	Nameservers []string `sconf:"optional" sconf-doc:"DNS servers to query, as ip:port. Default: the servers from /etc/resolv.conf."`
	StdResolver bool     `sconf:"optional" sconf-doc:"Use the resolver of the Go standard library instead of querying the nameservers directly. It cannot tell a domain without MX records from a domain that does not exist."`
	Workers     int      `sconf:"optional" sconf-doc:"Number of lookups and probes running at the same time, over all checks. Default: 32."`
	QueueSize   int      `sconf:"optional" sconf-doc:"Number of tasks waiting for a worker before new tasks wait. Default: 4 times Workers."`
	DNSTimeout  int      `sconf:"optional" sconf-doc:"Timeout in seconds for each DNS task. Default: 5."`
	SMTPTimeout int      `sconf:"optional" sconf-doc:"Timeout in seconds for an SMTP probe. Default: 10."`
	RunTimeout  int      `sconf:"optional" sconf-doc:"Seconds after which a check starts no new tasks. Tasks not started are reported as failed. Negative for no limit. Default: 60."`
	SMTPPort    int      `sconf:"optional" sconf-doc:"Port to probe on mail hosts. Default: 25."`
	HeloName    string   `sconf:"optional" sconf-doc:"Name to send in EHLO. Default: localhost."`
	ProbeEHLO   bool     `sconf:"optional" sconf-doc:"Send EHLO after the greeting to record the SMTP extensions of a mail host."`
	Providers   []string `sconf:"optional" sconf-doc:"DNS block list zones to check, in report order. Default: zen.spamhaus.org, b.barracudacentral.org, dnsbl.sorbs.net, bl.spamcop.net, dnsbl-1.uceprotect.net, cbl.abuseat.org, dnsbl.dronebl.org, psbl.surriel.com, rbl.efnetrbl.org."`
}

// Example returns a configuration with all defaults filled in, for
// Describe.
func Example() Static {
	return Static{
		LogLevel:    "info",
		Listen:      ":5001",
		Nameservers: []string{"8.8.8.8:53", "1.1.1.1:53"},
		Workers:     mailsentry.DefaultWorkers,
		QueueSize:   4 * mailsentry.DefaultWorkers,
		DNSTimeout:  int(mailsentry.DefaultDNSTimeout / time.Second),
		SMTPTimeout: int(mailsentry.DefaultSMTPTimeout / time.Second),
		RunTimeout:  int(mailsentry.DefaultRunTimeout / time.Second),
		SMTPPort:    mailsentry.DefaultSMTPPort,
		HeloName:    mailsentry.DefaultHeloName,
		Providers:   append([]string(nil), dnsbl.Providers...),
	}
}

// Load parses and validates the configuration file at path.
func Load(path string) (Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return Static{}, fmt.Errorf("open config file: %v", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return Static{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

// Parse parses and validates a configuration.
func Parse(r io.Reader) (Static, error) {
	var c Static
	if err := sconf.Parse(r, &c); err != nil {
		return Static{}, err
	}
	if err := c.Validate(); err != nil {
		return Static{}, err
	}
	return c, nil
}

// Describe writes an example configuration file with documentation.
func Describe(w io.Writer) error {
	var b bytes.Buffer
	c := Example()
	if err := sconf.Describe(&b, &c); err != nil {
		return err
	}
	_, err := w.Write(b.Bytes())
	return err
}

// Validate checks values that sconf cannot check while parsing.
func (c Static) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	for _, ns := range c.Nameservers {
		host, port, err := net.SplitHostPort(ns)
		if err != nil || net.ParseIP(host) == nil || port == "" {
			return fmt.Errorf("%w: nameserver %q, must be ip:port", ErrInvalid, ns)
		}
	}
	if c.StdResolver && len(c.Nameservers) > 0 {
		return fmt.Errorf("%w: Nameservers cannot be combined with StdResolver", ErrInvalid)
	}
	for _, v := range []struct {
		name  string
		value int
	}{
		{"Workers", c.Workers},
		{"QueueSize", c.QueueSize},
		{"DNSTimeout", c.DNSTimeout},
		{"SMTPTimeout", c.SMTPTimeout},
		{"SMTPPort", c.SMTPPort},
	} {
		if v.value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, v.name)
		}
	}
	if c.SMTPPort > 65535 {
		return fmt.Errorf("%w: SMTPPort %d out of range", ErrInvalid, c.SMTPPort)
	}
	for _, zone := range c.Providers {
		if _, err := dns.ParseDomain(zone); err != nil {
			return fmt.Errorf("%w: provider %q: %v", ErrInvalid, zone, err)
		}
	}
	return nil
}

// Level returns the parsed LogLevel, info if empty.
func (c Static) Level() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}

// ListenAddr returns the address for the HTTP API.
func (c Static) ListenAddr() string {
	if c.Listen == "" {
		return ":5001"
	}
	return c.Listen
}

// Checker returns the configuration for a mailsentry.Checker. Unset values
// are left zero, NewChecker applies the defaults.
func (c Static) Checker(log *slog.Logger) mailsentry.Config {
	config := mailsentry.Config{
		Logger:      log,
		Workers:     c.Workers,
		QueueSize:   c.QueueSize,
		DNSTimeout:  seconds(c.DNSTimeout),
		SMTPTimeout: seconds(c.SMTPTimeout),
		SMTPPort:    c.SMTPPort,
		HeloName:    c.HeloName,
		ProbeEHLO:   c.ProbeEHLO,
		Providers:   c.Providers,
	}
	if c.RunTimeout < 0 {
		config.RunTimeout = -1
	} else {
		config.RunTimeout = seconds(c.RunTimeout)
	}

	switch {
	case c.StdResolver:
		config.Resolver = dns.NewStdResolver()
	case len(c.Nameservers) > 0:
		dnsTimeout := config.DNSTimeout
		if dnsTimeout == 0 {
			dnsTimeout = mailsentry.DefaultDNSTimeout
		}
		config.Resolver = dns.NewResolver(dns.ResolverConfig{
			Nameservers: c.Nameservers,
			Timeout:     dnsTimeout,
			Logger:      log,
		})
	}
	return config
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
