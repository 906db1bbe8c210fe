package mailsentry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/synqronlabs/mailsentry/dns"
	"github.com/synqronlabs/mailsentry/utils"
)

var errNoIPv4 = errors.New("host has no ipv4 address")

// Checker runs diagnostics for domains. A Checker is safe for concurrent use,
// all runs share its worker pool.
type Checker struct {
	config Config
	log    *slog.Logger
	pool   *Pool
}

// NewChecker returns a Checker with its worker pool started. Close must be
// called to stop the workers.
func NewChecker(config Config) *Checker {
	config = config.withDefaults()
	return &Checker{
		config: config,
		log:    config.Logger,
		pool:   NewPool(config.Workers, config.QueueSize, config.Logger),
	}
}

// Config returns the configuration with defaults applied.
func (c *Checker) Config() Config {
	return c.config
}

// Close stops accepting runs, lets queued tasks finish and stops the workers.
// Runs in progress complete with the tasks they could still submit.
func (c *Checker) Close() error {
	c.pool.Close()
	return nil
}

type runIDKey struct{}

// WithRunID returns a context that makes Check use id as run identifier in its
// logging.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run identifier set with WithRunID, or the empty string.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Check runs the diagnostics for domain.
//
// An invalid domain returns an error matching ErrInvalidDomain before any
// lookup is done. If the MX lookup fails or yields no mail hosts, a
// *DomainResolutionError is returned. After Close, ErrCheckerClosed is
// returned. Any other failure is recorded in the report.
//
// When ctx is done, or the configured RunTimeout expires, no further tasks are
// started. Tasks that already started run until their own timeout.
func (c *Checker) Check(ctx context.Context, domain string) (rreport *Report, rerr error) {
	start := time.Now()
	runID := RunID(ctx)
	if runID == "" {
		runID = utils.NewRunID()
	}
	log := c.log.With(slog.String("run", runID))
	defer func() {
		result := checkResult(rerr)
		metricCheck.WithLabelValues(result).Observe(time.Since(start).Seconds())
		log.Info("check done",
			slog.String("domain", domain),
			slog.String("result", result),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", rerr))
	}()

	d, err := dns.ParseDomain(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDomain, err)
	}
	if c.pool.Closed() {
		return nil, ErrCheckerClosed
	}

	if c.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RunTimeout)
		defer cancel()
	}

	mxctx, mxcancel := context.WithTimeout(ctx, c.config.DNSTimeout)
	mx, err := LookupMX(mxctx, log, c.config.Resolver, d)
	mxcancel()
	if err != nil {
		return nil, err
	}

	r := &run{
		ctx:    ctx,
		config: c.config,
		log:    log,
		pool:   c.pool,
		domain: d,
		mx:     mx,
	}
	return r.diagnose(), nil
}

func checkResult(err error) string {
	var rerr *DomainResolutionError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidDomain):
		return "invalid"
	case errors.As(err, &rerr):
		return "resolution"
	case errors.Is(err, ErrCheckerClosed):
		return "closed"
	}
	return "error"
}

// run holds the state of a single Check after the mail hosts are known.
type run struct {
	ctx    context.Context
	config Config
	log    *slog.Logger
	pool   *Pool
	domain dns.Domain
	mx     []MXHost
}

// spawn starts fn on the pool with its own timeout. The task context is
// detached from the cancellation of the run, so a started task is not
// interrupted when the run ends.
func (r *run) spawn(b *batch, name string, timeout time.Duration, fn func(ctx context.Context)) {
	err := b.Go(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), timeout)
		defer cancel()
		fn(ctx)
	})
	if err != nil {
		r.log.Debug("task not started", slog.String("task", name), slog.Any("error", err))
	}
}

// diagnose runs all checks and assembles the report. Each task writes only to
// its own slot, slots are read after the batches are done.
func (r *run) diagnose() *Report {
	resolver := r.config.Resolver
	dnsTimeout := r.config.DNSTimeout

	// Records of the domain, independent of the hosts.
	var records Records
	var txt []string
	rb := newBatch(r.ctx, r.pool)
	r.spawn(rb, "a", dnsTimeout, func(ctx context.Context) {
		records.A = lookupA(ctx, r.log, resolver, r.domain.FQDN())
	})
	r.spawn(rb, "cname", dnsTimeout, func(ctx context.Context) {
		records.CNAME = lookupCNAME(ctx, r.log, resolver, r.domain.FQDN())
	})
	r.spawn(rb, "txt", dnsTimeout, func(ctx context.Context) {
		txt = lookupTXT(ctx, r.log, resolver, r.domain.FQDN())
	})
	r.spawn(rb, "dmarc", dnsTimeout, func(ctx context.Context) {
		records.DMARC = lookupDMARC(ctx, r.log, resolver, r.domain)
	})

	// Addresses of the mail hosts.
	ips := make([]net.IP, len(r.mx))
	hb := newBatch(r.ctx, r.pool)
	for i, mx := range r.mx {
		r.spawn(hb, "host "+mx.Host, dnsTimeout, func(ctx context.Context) {
			ips[i] = lookupHostIP(ctx, r.log, resolver, mx.Host)
		})
	}
	hb.Wait()

	// Per host checks. Results start out as the outcome of a task that never
	// ran.
	hosts := make([]*HostDiagnostics, len(r.mx))
	pb := newBatch(r.ctx, r.pool)
	for i, mx := range r.mx {
		h := &HostDiagnostics{
			Host:       mx.Host,
			SMTP:       newSMTPFailure(ProbeTimeout, "", 0),
			Blacklists: uncheckedBlacklists(r.config.Providers, errNotChecked),
		}
		hosts[i] = h
		r.diagnoseHost(pb, h, ips[i])
	}

	rb.Wait()
	pb.Wait()

	records.TXT = txt
	records.SPF = ExtractSPF(txt)
	return newReport(r.domain.ASCII, r.mx, records, hosts, time.Now())
}

// diagnoseHost starts the reverse lookup, the SMTP probe and the block list
// lookups of one host. Without IPv4 address the probe connects to the host
// name and the other checks are skipped.
func (r *run) diagnoseHost(b *batch, h *HostDiagnostics, ip net.IP) {
	resolver := r.config.Resolver
	log := r.log.With(slog.String("host", h.Host))

	target := h.Host
	if ip == nil {
		h.Blacklists = uncheckedBlacklists(r.config.Providers, errNoIPv4)
	} else {
		target = ip.String()
		h.IP = optionalString(target)
	}

	probeConfig := &ClientConfig{
		LocalName:      r.config.HeloName,
		ConnectTimeout: r.config.SMTPTimeout,
		ReadTimeout:    r.config.SMTPTimeout,
		WriteTimeout:   r.config.SMTPTimeout,
		Dial:           r.config.Dial,
	}
	address := net.JoinHostPort(target, strconv.Itoa(r.config.SMTPPort))
	r.spawn(b, "smtp "+h.Host, r.config.SMTPTimeout, func(ctx context.Context) {
		h.SMTP = Probe(ctx, log, address, probeConfig, r.config.ProbeEHLO)
	})

	if ip == nil {
		return
	}

	r.spawn(b, "iprev "+h.Host, r.config.DNSTimeout, func(ctx context.Context) {
		h.ReverseDNS, h.ReverseDNSConfirmed = reverseLookup(ctx, log, resolver, ip)
	})
	for i, zone := range r.config.Providers {
		r.spawn(b, "dnsbl "+zone, r.config.DNSTimeout, func(ctx context.Context) {
			h.Blacklists[i] = checkBlacklist(ctx, log, resolver, zone, ip)
		})
	}
}
