// Mailsentry diagnoses the mail server configuration of a domain.
//
// # Checker
//
// A Checker resolves the mail exchange hosts of a domain, gathers the
// supporting DNS records and probes every mail host:
//
//	checker := mailsentry.NewChecker(mailsentry.Config{
//	    Workers:   32,
//	    ProbeEHLO: true,
//	})
//	defer checker.Close()
//
//	report, err := checker.Check(ctx, "example.com")
//	var rerr *mailsentry.DomainResolutionError
//	switch {
//	case errors.Is(err, mailsentry.ErrInvalidDomain):
//	    // Bad input, nothing was looked up.
//	case errors.As(err, &rerr):
//	    log.Printf("no mail hosts for %s: %s", rerr.Domain, rerr.Reason)
//	case err != nil:
//	    log.Fatal(err)
//	}
//
// Only a failing MX lookup aborts a run. Every other failure, from an
// unreachable SMTP port to a block list that does not answer, is classified
// and recorded in the report.
//
// For each mail host the report holds the IPv4 address, the reverse DNS name
// and whether it resolves back to the address, the result of reading the SMTP
// greeting, and the listing status in nine DNS block lists.
//
// # Concurrency
//
// All lookups and probes of all runs of a Checker share one bounded worker
// pool. Every task has its own timeout. When a run's context is canceled no
// new tasks are started, tasks already running finish or time out on their
// own, and tasks that never ran are reported as failed.
//
// # Serialization
//
// Reports encode to JSON with encoding/json:
//
//	data, err := json.Marshal(report)
//
// And to MessagePack:
//
//	data, err := report.MarshalMsg(nil)
package mailsentry
