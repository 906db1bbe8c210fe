package mailsentry

import (
	"strings"
	"time"

	"github.com/tinylib/msgp/msgp"

	mailio "github.com/synqronlabs/mailsentry/io"
)

// MXHost is a mail exchange host of the checked domain. Host has no trailing
// dot.
type MXHost struct {
	Host     string `json:"host"`
	Priority int    `json:"priority"`
}

// DNSRecords holds the records of the checked domain. The slices are never
// nil, an absent record type is an empty list.
type DNSRecords struct {
	A     []string `json:"A"`
	CNAME []string `json:"CNAME"`
	TXT   []string `json:"TXT"`
}

// ProbeStatus is the outcome of an SMTP probe.
type ProbeStatus string

const (
	ProbeSuccess ProbeStatus = "success"
	ProbeFailure ProbeStatus = "failure"
)

// ProbeError classifies a failed SMTP probe.
type ProbeError string

const (
	ProbeConnectionRefused ProbeError = "connection_refused"
	ProbeTimeout           ProbeError = "timeout"
	ProbeProtocolError     ProbeError = "protocol_error"
	ProbeUnknown           ProbeError = "unknown"
)

// SMTPResult is the outcome of an SMTP probe. Banner is the decoded greeting
// text without reply code, also set for a failure when the server greeted
// with an error code.
type SMTPResult struct {
	Status     ProbeStatus `json:"status"`
	Banner     *string     `json:"banner"`
	Error      *string     `json:"error"`
	Extensions []string    `json:"extensions,omitempty"` // EHLO keywords with parameters.
	LatencyMS  int64       `json:"latency_ms"`
}

// newSMTPSuccess returns a successful result. The banner and extensions are
// made printable.
func newSMTPSuccess(banner string, extensions []string, latency time.Duration) SMTPResult {
	var exts []string
	for _, e := range extensions {
		if e = mailio.String(e); e != "" {
			exts = append(exts, e)
		}
	}
	return SMTPResult{
		Status:     ProbeSuccess,
		Banner:     optionalString(banner),
		Extensions: exts,
		LatencyMS:  latency.Milliseconds(),
	}
}

// newSMTPFailure returns a failed result. banner is optional.
func newSMTPFailure(class ProbeError, banner string, latency time.Duration) SMTPResult {
	s := string(class)
	return SMTPResult{
		Status:    ProbeFailure,
		Banner:    optionalString(banner),
		Error:     &s,
		LatencyMS: latency.Milliseconds(),
	}
}

// BlacklistResult is the listing status of a host in one block list. Listed
// is nil when the list gave no definitive answer, Error then says why.
type BlacklistResult struct {
	Blacklist string `json:"blacklist"`
	Listed    *bool  `json:"listed"`
	Error     string `json:"error,omitempty"`
}

func newBlacklistResult(zone string, listed *bool, err error) BlacklistResult {
	r := BlacklistResult{Blacklist: zone, Listed: listed}
	if listed == nil && err != nil {
		r.Error = mailio.String(err.Error())
	}
	return r
}

// HostDiagnostics holds the results of all checks of one mail host.
type HostDiagnostics struct {
	Host                string            `json:"host"`
	IP                  *string           `json:"ip"`
	ReverseDNS          *string           `json:"reverse_dns"`
	ReverseDNSConfirmed *bool             `json:"reverse_dns_confirmed"`
	SMTP                SMTPResult        `json:"smtp"`
	Blacklists          []BlacklistResult `json:"blacklists"`
}

// Report is the result of a diagnostics run. It is not modified after Check
// returns it.
type Report struct {
	Domain      string                      `json:"domain"`
	MXRecords   []MXHost                    `json:"mx_records"`
	DNSRecords  DNSRecords                  `json:"dns_records"`
	Diagnostics map[string]*HostDiagnostics `json:"diagnostics"`
	SPF         *string                     `json:"spf"`
	DMARC       *string                     `json:"dmarc"`
	Timestamp   string                      `json:"timestamp"` // RFC 3339, UTC.
}

// newReport assembles a report. Diagnostics are keyed by MX host and hosts
// must hold one entry per MX host, in the same order.
func newReport(domain string, mx []MXHost, records Records, hosts []*HostDiagnostics, now time.Time) *Report {
	r := &Report{
		Domain:    domain,
		MXRecords: mx,
		DNSRecords: DNSRecords{
			A:     printable(records.A),
			CNAME: printable(records.CNAME),
			TXT:   printable(records.TXT),
		},
		Diagnostics: make(map[string]*HostDiagnostics, len(hosts)),
		SPF:         records.SPF,
		DMARC:       records.DMARC,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if r.MXRecords == nil {
		r.MXRecords = []MXHost{}
	}
	for _, h := range hosts {
		r.Diagnostics[h.Host] = h
	}
	return r
}

// optionalString returns nil for an empty string, a printable copy otherwise.
func optionalString(s string) *string {
	s = strings.TrimSpace(mailio.String(s))
	if s == "" {
		return nil
	}
	return &s
}

// printable returns a non-nil list with printable copies of l.
func printable(l []string) []string {
	r := make([]string, 0, len(l))
	for _, s := range l {
		r = append(r, mailio.String(s))
	}
	return r
}

func boolPtr(v bool) *bool {
	return &v
}

// MarshalMsg appends the MessagePack encoding of the report to b. The keys are
// those of the JSON encoding. Diagnostics are encoded in MX order.
func (r *Report) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 7)
	b = msgp.AppendString(b, "domain")
	b = msgp.AppendString(b, r.Domain)

	b = msgp.AppendString(b, "mx_records")
	b = msgp.AppendArrayHeader(b, uint32(len(r.MXRecords)))
	for _, mx := range r.MXRecords {
		b = msgp.AppendMapHeader(b, 2)
		b = msgp.AppendString(b, "host")
		b = msgp.AppendString(b, mx.Host)
		b = msgp.AppendString(b, "priority")
		b = msgp.AppendInt(b, mx.Priority)
	}

	b = msgp.AppendString(b, "dns_records")
	b = msgp.AppendMapHeader(b, 3)
	b = appendStrings(b, "A", r.DNSRecords.A)
	b = appendStrings(b, "CNAME", r.DNSRecords.CNAME)
	b = appendStrings(b, "TXT", r.DNSRecords.TXT)

	b = msgp.AppendString(b, "diagnostics")
	b = msgp.AppendMapHeader(b, uint32(len(r.Diagnostics)))
	seen := make(map[string]bool, len(r.Diagnostics))
	for _, mx := range r.MXRecords {
		if h, ok := r.Diagnostics[mx.Host]; ok && !seen[mx.Host] {
			seen[mx.Host] = true
			b = msgp.AppendString(b, mx.Host)
			b = h.appendMsg(b)
		}
	}
	// Entries without MX record do not occur in assembled reports, keep the
	// encoding valid regardless.
	for host, h := range r.Diagnostics {
		if !seen[host] {
			b = msgp.AppendString(b, host)
			b = h.appendMsg(b)
		}
	}

	b = msgp.AppendString(b, "spf")
	b = appendOptString(b, r.SPF)
	b = msgp.AppendString(b, "dmarc")
	b = appendOptString(b, r.DMARC)
	b = msgp.AppendString(b, "timestamp")
	b = msgp.AppendString(b, r.Timestamp)
	return b, nil
}

func (h *HostDiagnostics) appendMsg(b []byte) []byte {
	b = msgp.AppendMapHeader(b, 6)
	b = msgp.AppendString(b, "host")
	b = msgp.AppendString(b, h.Host)
	b = msgp.AppendString(b, "ip")
	b = appendOptString(b, h.IP)
	b = msgp.AppendString(b, "reverse_dns")
	b = appendOptString(b, h.ReverseDNS)
	b = msgp.AppendString(b, "reverse_dns_confirmed")
	b = appendOptBool(b, h.ReverseDNSConfirmed)

	b = msgp.AppendString(b, "smtp")
	n := uint32(4)
	if len(h.SMTP.Extensions) > 0 {
		n++
	}
	b = msgp.AppendMapHeader(b, n)
	b = msgp.AppendString(b, "status")
	b = msgp.AppendString(b, string(h.SMTP.Status))
	b = msgp.AppendString(b, "banner")
	b = appendOptString(b, h.SMTP.Banner)
	b = msgp.AppendString(b, "error")
	b = appendOptString(b, h.SMTP.Error)
	if len(h.SMTP.Extensions) > 0 {
		b = appendStrings(b, "extensions", h.SMTP.Extensions)
	}
	b = msgp.AppendString(b, "latency_ms")
	b = msgp.AppendInt64(b, h.SMTP.LatencyMS)

	b = msgp.AppendString(b, "blacklists")
	b = msgp.AppendArrayHeader(b, uint32(len(h.Blacklists)))
	for _, bl := range h.Blacklists {
		n := uint32(2)
		if bl.Error != "" {
			n++
		}
		b = msgp.AppendMapHeader(b, n)
		b = msgp.AppendString(b, "blacklist")
		b = msgp.AppendString(b, bl.Blacklist)
		b = msgp.AppendString(b, "listed")
		b = appendOptBool(b, bl.Listed)
		if bl.Error != "" {
			b = msgp.AppendString(b, "error")
			b = msgp.AppendString(b, bl.Error)
		}
	}
	return b
}

func appendStrings(b []byte, key string, l []string) []byte {
	b = msgp.AppendString(b, key)
	b = msgp.AppendArrayHeader(b, uint32(len(l)))
	for _, s := range l {
		b = msgp.AppendString(b, s)
	}
	return b
}

func appendOptString(b []byte, s *string) []byte {
	if s == nil {
		return msgp.AppendNil(b)
	}
	return msgp.AppendString(b, *s)
}

func appendOptBool(b []byte, v *bool) []byte {
	if v == nil {
		return msgp.AppendNil(b)
	}
	return msgp.AppendBool(b, *v)
}

var _ msgp.Marshaler = (*Report)(nil)
