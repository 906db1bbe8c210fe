package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synqronlabs/mailsentry"
	"github.com/synqronlabs/mailsentry/dns"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestChecker(t *testing.T) *mailsentry.Checker {
	t.Helper()

	resolver := dns.MockResolver{
		MX: map[string][]*net.MX{
			"example.com.": {{Host: "mail.example.com.", Pref: 10}},
		},
		A: map[string][]string{
			"mail.example.com.": {"192.0.2.25"},
			"nomx.example.":     {"192.0.2.1"},
		},
		TXT: map[string][]string{
			"example.com.": {"v=spf1 mx -all"},
		},
		PTR: map[string][]string{
			"192.0.2.25": {"mail.example.com."},
		},
	}
	c := mailsentry.NewChecker(mailsentry.Config{
		Resolver: resolver,
		Logger:   discardLog,
		Workers:  4,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("no network in tests")
		},
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func testReport() *mailsentry.Report {
	ip := "192.0.2.25"
	name := "mail.example.com"
	banner := "mail.example.com ESMTP"
	spf := "v=spf1 mx -all"
	confirmed := true
	listed := false
	return &mailsentry.Report{
		Domain:     "example.com",
		MXRecords:  []mailsentry.MXHost{{Host: "mail.example.com", Priority: 10}},
		DNSRecords: mailsentry.DNSRecords{A: []string{"192.0.2.1"}, CNAME: []string{}, TXT: []string{spf}},
		Diagnostics: map[string]*mailsentry.HostDiagnostics{
			"mail.example.com": {
				Host:                "mail.example.com",
				IP:                  &ip,
				ReverseDNS:          &name,
				ReverseDNSConfirmed: &confirmed,
				SMTP:                mailsentry.SMTPResult{Status: mailsentry.ProbeSuccess, Banner: &banner, LatencyMS: 12},
				Blacklists: []mailsentry.BlacklistResult{
					{Blacklist: "zen.spamhaus.org", Listed: &listed},
					{Blacklist: "bl.spamcop.net", Error: "dnsbl: dns error"},
				},
			},
		},
		SPF:       &spf,
		Timestamp: "2024-05-01T10:00:00Z",
	}
}

func TestRenderText(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, renderText(&b, testReport()))
	out := b.String()

	for _, s := range []string{
		"MX Server Check for example.com (2024-05-01T10:00:00Z)",
		"Host: mail.example.com, Priority: 10",
		"  A: [192.0.2.1]",
		"  CNAME: None",
		"- mail.example.com",
		"  IP: 192.0.2.25",
		"  Reverse DNS: mail.example.com (confirmed)",
		"  SMTP Check: success (12 ms)",
		"    Banner: mail.example.com ESMTP",
		"    zen.spamhaus.org: false",
		"    bl.spamcop.net: unknown",
		"      Error: dnsbl: dns error",
		"SPF Record: v=spf1 mx -all",
		"DMARC Record: None",
	} {
		assert.Contains(t, out, s)
	}
}

func TestRenderJSON(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, renderJSON(&b, testReport()))

	var m map[string]any
	require.NoError(t, json.Unmarshal(b.Bytes(), &m))
	assert.Equal(t, "example.com", m["domain"])
	assert.Nil(t, m["dmarc"])
}

func TestCheckDomains(t *testing.T) {
	checker := newTestChecker(t)

	var b bytes.Buffer
	ok := checkDomains(context.Background(), checker, []string{"example.com"}, renderText, &b)
	assert.True(t, ok)
	assert.Contains(t, b.String(), "SMTP Check: failure")
	assert.Contains(t, b.String(), "SMTP Error: unknown")
	assert.Contains(t, b.String(), "Reverse DNS: mail.example.com (confirmed)")

	b.Reset()
	ok = checkDomains(context.Background(), checker, []string{"example.com", "nomx.example"}, renderJSON, &b)
	assert.False(t, ok)
	assert.Contains(t, b.String(), "nomx.example: resolving mail hosts for nomx.example: no mx records")
}

func TestPromptLoop(t *testing.T) {
	checker := newTestChecker(t)

	in := strings.NewReader("not a domain\n\nnomx.example\nExample.com\n")
	var out bytes.Buffer
	err := promptLoop(context.Background(), checker, in, &out, renderText)
	require.NoError(t, err)

	s := out.String()
	assert.Equal(t, 5, strings.Count(s, prompt))
	assert.Equal(t, 2, strings.Count(s, "Error: Please enter a valid domain (e.g., example.com)"))
	assert.Contains(t, s, "No mail hosts for nomx.example: no_mx")
	assert.Contains(t, s, "MX Server Check for example.com")
}

func TestPromptLoopCanceled(t *testing.T) {
	checker := newTestChecker(t)

	// Input that never ends.
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		done <- promptLoop(ctx, checker, r, &out, renderText)
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt loop did not stop")
	}
}

func TestCheckHealth(t *testing.T) {
	resolver := dns.MockResolver{
		A: map[string][]string{
			"2.0.0.127.good.example.": {"127.0.0.2"},
		},
	}
	config := mailsentry.Config{
		Resolver:   resolver,
		Providers:  []string{"good.example", "bad.example"},
		DNSTimeout: time.Second,
	}

	var b bytes.Buffer
	assert.False(t, checkHealth(context.Background(), discardLog, config, &b))
	assert.Contains(t, b.String(), "good.example: ok\n")
	assert.Contains(t, b.String(), "bad.example: unhealthy: ")

	config.Providers = config.Providers[:1]
	b.Reset()
	assert.True(t, checkHealth(context.Background(), discardLog, config, &b))
}
