package mailsentry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	mailio "github.com/synqronlabs/mailsentry/io"
	"github.com/synqronlabs/mailsentry/utils"
)

// Probe connects to an SMTP server at address and reads its greeting. With
// ehlo set, EHLO is sent to record the advertised extensions, followed by
// QUIT. Failures after a successful greeting are logged, they don't change
// the outcome.
//
// Probe never panics. The connection is always closed before returning.
func Probe(ctx context.Context, log *slog.Logger, address string, config *ClientConfig, ehlo bool) (result SMTPResult) {
	start := time.Now()
	defer func() {
		if x := recover(); x != nil {
			log.Error("smtp probe panic", slog.String("address", address), slog.Any("panic", x))
			result = newSMTPFailure(ProbeUnknown, "", time.Since(start))
		}
		label := string(result.Status)
		if result.Error != nil {
			label = *result.Error
		}
		metricSMTPProbe.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	client := NewClient(config)
	defer client.Close()

	if err := client.DialContext(ctx, address); err != nil {
		var banner string
		if g := client.Greeting(); g != nil {
			banner = g.Text()
		}
		class := classifyProbeError(err)
		log.Debug("smtp probe failed",
			slog.String("address", address),
			slog.String("class", string(class)),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return newSMTPFailure(class, banner, time.Since(start))
	}
	latency := time.Since(start)
	greeting := client.Greeting()
	remote, _ := utils.IPFromAddr(client.RemoteAddr())
	if greeting.Lossy {
		log.Debug("smtp greeting not valid text, replaced bytes", slog.String("address", address))
	}

	var extensions []string
	if ehlo {
		if err := client.Hello(); err != nil {
			log.Debug("smtp ehlo failed", slog.String("address", address), slog.Any("error", err))
		} else if client.IsESMTP() {
			extensions = client.Extensions()
		}
		if err := client.Quit(); err != nil {
			log.Debug("smtp quit failed", slog.String("address", address), slog.Any("error", err))
		}
	}

	log.Debug("smtp probe result",
		slog.String("address", address),
		slog.Any("remote", remote),
		slog.Int("code", greeting.Code),
		slog.Bool("esmtp", client.IsESMTP()),
		slog.Duration("duration", latency))
	return newSMTPSuccess(greeting.Text(), extensions, latency)
}

// classifyProbeError maps a dial or read error to a ProbeError.
func classifyProbeError(err error) ProbeError {
	var smtpErr *SMTPError
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ProbeConnectionRefused
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return ProbeTimeout
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, ErrUnexpectedResponse),
		errors.Is(err, mailio.ErrLineTooLong),
		errors.Is(err, mailio.ErrMissingLineEnd),
		errors.As(err, &smtpErr):
		return ProbeProtocolError
	}
	return ProbeUnknown
}
