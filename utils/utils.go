// Package utils holds small helpers shared by the engine, the service and the
// command line.
package utils

import (
	"fmt"
	"net"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewRunID returns a new identifier for a diagnostics run. Identifiers are
// ULIDs, so they sort by creation time.
func NewRunID() string {
	return ulid.Make().String()
}

// RunIDTime returns the creation time encoded in a run identifier.
func RunIDTime(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing run id: %w", err)
	}
	return ulid.Time(u.Time()), nil
}

// IPFromAddr returns the IP of a network address, e.g. the remote address of
// a probed connection.
func IPFromAddr(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, fmt.Errorf("address is nil")
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP, nil
	case *net.UDPAddr:
		return a.IP, nil
	case *net.IPAddr:
		return a.IP, nil
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("unable to extract IP from address: %v", addr)
	}
	return ip, nil
}
