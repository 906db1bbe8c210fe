package mailsentry

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDomain = errors.New("mailsentry: invalid domain")
	ErrCheckerClosed = errors.New("mailsentry: checker closed")
)

// ResolutionReason classifies why the mail hosts of a domain could not be
// resolved.
type ResolutionReason string

const (
	ReasonNXDomain ResolutionReason = "nxdomain" // Domain does not exist.
	ReasonNoMX     ResolutionReason = "no_mx"    // Domain exists, without MX records.
	ReasonNullMX   ResolutionReason = "null_mx"  // Domain explicitly accepts no mail, RFC 7505.
	ReasonTimeout  ResolutionReason = "timeout"
	ReasonServFail ResolutionReason = "servfail"
	ReasonError    ResolutionReason = "error"
)

// DomainResolutionError is returned by Check when no mail hosts could be
// determined for a domain. The run is aborted and no report is produced.
type DomainResolutionError struct {
	Domain string
	Reason ResolutionReason
	Err    error // Underlying DNS error, nil for null MX.
}

func (e *DomainResolutionError) Error() string {
	var msg string
	switch e.Reason {
	case ReasonNXDomain:
		msg = "domain does not exist"
	case ReasonNoMX:
		msg = "no mx records"
	case ReasonNullMX:
		msg = "domain does not accept mail (null mx)"
	case ReasonTimeout:
		msg = "mx lookup timed out"
	case ReasonServFail:
		msg = "mx lookup server failure"
	default:
		msg = "mx lookup failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("resolving mail hosts for %s: %s: %v", e.Domain, msg, e.Err)
	}
	return fmt.Sprintf("resolving mail hosts for %s: %s", e.Domain, msg)
}

func (e *DomainResolutionError) Unwrap() error {
	return e.Err
}
