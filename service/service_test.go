package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/mailsentry"
	"github.com/synqronlabs/mailsentry/utils"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeChecker returns fixed outcomes per domain and records the run
// identifiers it was called with.
type fakeChecker struct {
	mu      sync.Mutex
	domains []string
	runIDs  []string
	errs    map[string]error
}

func (c *fakeChecker) Check(ctx context.Context, domain string) (*mailsentry.Report, error) {
	c.mu.Lock()
	c.domains = append(c.domains, domain)
	c.runIDs = append(c.runIDs, mailsentry.RunID(ctx))
	c.mu.Unlock()

	if err := c.errs[domain]; err != nil {
		return nil, err
	}
	spf := "v=spf1 -all"
	return &mailsentry.Report{
		Domain:     domain,
		MXRecords:  []mailsentry.MXHost{{Host: "mail." + domain, Priority: 10}},
		DNSRecords: mailsentry.DNSRecords{A: []string{}, CNAME: []string{}, TXT: []string{spf}},
		Diagnostics: map[string]*mailsentry.HostDiagnostics{
			"mail." + domain: {
				Host:       "mail." + domain,
				SMTP:       mailsentry.SMTPResult{Status: mailsentry.ProbeSuccess},
				Blacklists: []mailsentry.BlacklistResult{},
			},
		},
		SPF:       &spf,
		Timestamp: "2024-05-01T10:00:00Z",
	}, nil
}

func newTestServer(t *testing.T) (*fakeChecker, http.Handler) {
	t.Helper()

	checker := &fakeChecker{
		errs: map[string]error{
			"bad..example":   mailsentry.ErrInvalidDomain,
			"nomx.example":   &mailsentry.DomainResolutionError{Domain: "nomx.example", Reason: mailsentry.ReasonNoMX},
			"closed.example": mailsentry.ErrCheckerClosed,
		},
	}
	return checker, New(checker, Config{Logger: discardLog}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{"status": "MailSentry API is running", "version": "1.0.0"}, decodeBody(t, rec))
}

func TestCheckPost(t *testing.T) {
	checker, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/check", `{"domain": "  example.com "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "example.com", body["domain"])
	assert.Equal(t, "v=spf1 -all", body["spf"])
	assert.Nil(t, body["dmarc"])
	assert.Contains(t, body["diagnostics"], "mail.example.com")

	runID := rec.Header().Get("X-Run-Id")
	_, err := utils.RunIDTime(runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, checker.domains)
	assert.Equal(t, []string{runID}, checker.runIDs)
}

func TestCheckGet(t *testing.T) {
	checker, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/check/example.org", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "example.org", decodeBody(t, rec)["domain"])
	assert.Equal(t, []string{"example.org"}, checker.domains)
}

func TestCheckErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		code   int
		error  string
		reason string
	}{
		{"no body", "", http.StatusBadRequest, "Domain is required in JSON payload", ""},
		{"malformed", `{"domain": `, http.StatusBadRequest, "Domain is required in JSON payload", ""},
		{"missing", `{"host": "example.com"}`, http.StatusBadRequest, "Domain is required in JSON payload", ""},
		{"null", `{"domain": null}`, http.StatusBadRequest, "Domain is required in JSON payload", ""},
		{"not a string", `{"domain": 1}`, http.StatusBadRequest, "Domain is required in JSON payload", ""},
		{"empty", `{"domain": "   "}`, http.StatusBadRequest, "Domain cannot be empty", ""},
		{"invalid", `{"domain": "bad..example"}`, http.StatusBadRequest, mailsentry.ErrInvalidDomain.Error(), ""},
		{"resolution", `{"domain": "nomx.example"}`, http.StatusInternalServerError, "", "no_mx"},
		{"closed", `{"domain": "closed.example"}`, http.StatusServiceUnavailable, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newTestServer(t)
			rec := do(t, h, http.MethodPost, "/api/check", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Run-Id"))

			body := decodeBody(t, rec)
			assert.NotEmpty(t, body["error"])
			if tt.error != "" {
				assert.Equal(t, tt.error, body["error"])
			}
			if tt.reason != "" {
				assert.Equal(t, tt.reason, body["reason"])
			} else {
				assert.NotContains(t, body, "reason")
			}
		})
	}
}

func TestCheckBodyLimit(t *testing.T) {
	checker, h := newTestServer(t)

	body := `{"domain": "example.com", "pad": "` + strings.Repeat("x", MaxBodySize) + `"}`
	rec := do(t, h, http.MethodPost, "/api/check", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, checker.domains)
}

func TestCheckMsgpack(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/check/example.com", "", "Accept", "text/html, application/msgpack;q=0.9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

	var buf bytes.Buffer
	rest, err := msgp.UnmarshalAsJSON(&buf, rec.Body.Bytes())
	require.NoError(t, err)
	assert.Empty(t, rest)

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "example.com", m["domain"])
	assert.Equal(t, "2024-05-01T10:00:00Z", m["timestamp"])

	// Errors stay JSON.
	rec = do(t, h, http.MethodGet, "/api/check/nomx.example", "", "Accept", "application/msgpack")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "no_mx", decodeBody(t, rec)["reason"])
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/check", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetrics(t *testing.T) {
	_, h := newTestServer(t)

	do(t, h, http.MethodGet, "/api/status", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailsentry_http_request_duration_seconds")
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakeChecker{}, Config{Logger: discardLog, ShutdownTimeout: time.Second})
	errc := make(chan error, 1)
	go func() {
		errc <- s.Serve(ctx, ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
