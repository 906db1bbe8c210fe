package iprev

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/synqronlabs/mailsentry/dns"
)

func TestIPRev(t *testing.T) {
	resolver := dns.MockResolver{
		PTR: map[string][]string{
			"10.0.0.1": {"basic.example."},
			"10.0.0.4": {"absent.example.", "b.example."},
			"10.0.0.5": {"other.example.", "c.example."},
			"10.0.0.6": {"temperror.example.", "d.example."},
			"10.0.0.7": {"temperror.example.", "temperror2.example."},
			"10.0.0.8": {"other.example."},
		},
		A: map[string][]string{
			"basic.example.":      {"10.0.0.1"},
			"b.example.":          {"10.0.0.4"},
			"c.example.":          {"10.0.0.5"},
			"d.example.":          {"10.0.0.6"},
			"other.example.":      {"10.9.9.9"},
			"temperror.example.":  {"10.0.0.99"},
			"temperror2.example.": {"10.0.0.99"},
		},
		Fail: []string{
			"ptr 10.0.0.3",
			"a temperror.example.",
			"a temperror2.example.",
		},
	}

	test := func(ip string, expStatus Status, expName, expNames, expFirst string, expErr error) {
		t.Helper()

		result, err := Lookup(context.Background(), slog.Default(), resolver, net.ParseIP(ip))
		if (err == nil) != (expErr == nil) || err != nil && !errors.Is(err, expErr) {
			t.Fatalf("%s: got err %v, expected err %v", ip, err, expErr)
		}
		names := strings.Join(result.Names, ",")
		if result.Status != expStatus || result.Name != expName || names != expNames {
			t.Fatalf("%s: got status %q, name %q, names %q, expected %q %q %q", ip, result.Status, result.Name, names, expStatus, expName, expNames)
		}
		if first := result.First(); first != expFirst {
			t.Fatalf("%s: got first %q, expected %q", ip, first, expFirst)
		}
	}

	test("10.0.0.1", StatusPass, "basic.example.", "basic.example.", "basic.example.", nil)
	test("10.0.0.2", StatusPermerror, "", "", "", ErrNoRecord)
	test("10.0.0.3", StatusTemperror, "", "", "", ErrDNS)
	test("10.0.0.4", StatusPass, "b.example.", "absent.example.,b.example.", "b.example.", nil)
	test("10.0.0.5", StatusPass, "c.example.", "other.example.,c.example.", "c.example.", nil)
	test("10.0.0.6", StatusPass, "d.example.", "temperror.example.,d.example.", "d.example.", nil)
	test("10.0.0.7", StatusTemperror, "", "temperror.example.,temperror2.example.", "temperror.example.", ErrDNS)
	test("10.0.0.8", StatusFail, "", "other.example.", "other.example.", nil)
}

// brokenResolver fails PTR lookups with an error that is not temporary.
type brokenResolver struct {
	dns.MockResolver
}

func (brokenResolver) LookupAddr(ctx context.Context, ip net.IP) (dns.Result[string], error) {
	return dns.Result[string]{}, errors.New("dns: unexpected rcode NOTIMP")
}

func TestIPRevErrorStatus(t *testing.T) {
	result, err := Lookup(context.Background(), slog.Default(), brokenResolver{}, net.ParseIP("10.0.0.1"))
	if !errors.Is(err, ErrDNS) || result.Status != StatusPermerror {
		t.Fatalf("got status %q, err %v, expected permerror with ErrDNS", result.Status, err)
	}

	resolver := dns.MockResolver{Timeout: []string{"ptr 10.0.0.1"}}
	result, err = Lookup(context.Background(), slog.Default(), resolver, net.ParseIP("10.0.0.1"))
	if !errors.Is(err, ErrDNS) || result.Status != StatusTemperror {
		t.Fatalf("got status %q, err %v, expected temperror with ErrDNS", result.Status, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolver = dns.MockResolver{Hang: []string{"ptr 10.0.0.1"}}
	result, _ = Lookup(ctx, slog.Default(), resolver, net.ParseIP("10.0.0.1"))
	if result.Status != StatusTemperror {
		t.Fatalf("canceled lookup: got status %q, expected temperror", result.Status)
	}
}
