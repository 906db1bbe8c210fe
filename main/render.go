package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/synqronlabs/mailsentry"
)

const rule = "=================================================="

// renderText writes a report for reading in a terminal.
func renderText(w io.Writer, r *mailsentry.Report) error {
	var b bytes.Buffer

	fmt.Fprintf(&b, "\nMX Server Check for %s (%s)\n", r.Domain, r.Timestamp)
	fmt.Fprintln(&b, rule)

	fmt.Fprintln(&b, "\nUnique MX Hosts (by priority):")
	for _, mx := range r.MXRecords {
		fmt.Fprintf(&b, "Host: %s, Priority: %d\n", mx.Host, mx.Priority)
	}

	fmt.Fprintln(&b, "\nDNS Records:")
	fmt.Fprintf(&b, "  A: %s\n", list(r.DNSRecords.A))
	fmt.Fprintf(&b, "  CNAME: %s\n", list(r.DNSRecords.CNAME))
	fmt.Fprintf(&b, "  TXT: %s\n", list(r.DNSRecords.TXT))

	fmt.Fprintln(&b, "\nDiagnostics:")
	for _, mx := range r.MXRecords {
		h := r.Diagnostics[mx.Host]
		if h == nil {
			continue
		}
		fmt.Fprintf(&b, "\n- %s\n", h.Host)
		fmt.Fprintf(&b, "  IP: %s\n", optional(h.IP, "N/A"))

		reverse := optional(h.ReverseDNS, "N/A")
		if h.ReverseDNSConfirmed != nil {
			if *h.ReverseDNSConfirmed {
				reverse += " (confirmed)"
			} else {
				reverse += " (does not resolve back)"
			}
		}
		fmt.Fprintf(&b, "  Reverse DNS: %s\n", reverse)

		fmt.Fprintf(&b, "  SMTP Check: %s (%d ms)\n", h.SMTP.Status, h.SMTP.LatencyMS)
		if h.SMTP.Banner != nil {
			fmt.Fprintf(&b, "    Banner: %s\n", *h.SMTP.Banner)
		}
		if h.SMTP.Error != nil {
			fmt.Fprintf(&b, "    SMTP Error: %s\n", *h.SMTP.Error)
		}
		if len(h.SMTP.Extensions) > 0 {
			fmt.Fprintf(&b, "    Extensions: %s\n", strings.Join(h.SMTP.Extensions, ", "))
		}

		fmt.Fprintln(&b, "  Blacklists:")
		for _, bl := range h.Blacklists {
			listed := "unknown"
			if bl.Listed != nil {
				listed = fmt.Sprint(*bl.Listed)
			}
			fmt.Fprintf(&b, "    %s: %s\n", bl.Blacklist, listed)
			if bl.Error != "" {
				fmt.Fprintf(&b, "      Error: %s\n", bl.Error)
			}
		}
	}

	fmt.Fprintf(&b, "\nSPF Record: %s\n", optional(r.SPF, "None"))
	fmt.Fprintf(&b, "DMARC Record: %s\n", optional(r.DMARC, "None"))
	fmt.Fprintln(&b, rule)

	_, err := w.Write(b.Bytes())
	return err
}

// renderJSON writes a report as indented JSON.
func renderJSON(w io.Writer, r *mailsentry.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return enc.Encode(r)
}

func list(l []string) string {
	if len(l) == 0 {
		return "None"
	}
	return "[" + strings.Join(l, ", ") + "]"
}

func optional(s *string, absent string) string {
	if s == nil {
		return absent
	}
	return *s
}
