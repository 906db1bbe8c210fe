// Command mailsentry checks the mail server setup of domains.
//
// With domains as arguments, each domain is checked once and the report is
// printed. Otherwise the HTTP API is served, and with -interactive domains are
// also read from a prompt, until interrupted.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/synqronlabs/mailsentry"
	"github.com/synqronlabs/mailsentry/config"
	"github.com/synqronlabs/mailsentry/dns"
	"github.com/synqronlabs/mailsentry/dnsbl"
	"github.com/synqronlabs/mailsentry/service"
)

const prompt = "Enter domain to check (e.g., example.com): "

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mailsentry [flags] [domain ...]")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	var (
		configPath     string
		listen         string
		interactive    bool
		jsonOutput     bool
		healthcheck    bool
		describeConfig bool
	)
	flag.StringVar(&configPath, "config", "", "configuration file in sconf format, see -describe-config")
	flag.StringVar(&listen, "listen", "", "address for the HTTP API, overrides the configuration file (default :5001)")
	flag.BoolVar(&interactive, "interactive", false, "read domains from a prompt in addition to serving the HTTP API")
	flag.BoolVar(&jsonOutput, "json", false, "print reports as JSON")
	flag.BoolVar(&healthcheck, "healthcheck", false, "check whether the DNS block lists answer correctly, and exit")
	flag.BoolVar(&describeConfig, "describe-config", false, "print an example configuration file, and exit")
	flag.Usage = usage
	flag.Parse()

	if describeConfig {
		if err := config.Describe(os.Stdout); err != nil {
			fatalf("describe config: %v", err)
		}
		return
	}

	var static config.Static
	if configPath != "" {
		var err error
		static, err = config.Load(configPath)
		if err != nil {
			fatalf("%v", err)
		}
	}
	if listen != "" {
		static.Listen = listen
	}
	level, err := static.Level()
	if err != nil {
		fatalf("%v", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := mailsentry.NewChecker(static.Checker(log))
	defer checker.Close()

	render := renderText
	if jsonOutput {
		render = renderJSON
	}

	switch {
	case healthcheck:
		if !checkHealth(ctx, log, checker.Config(), os.Stdout) {
			checker.Close()
			os.Exit(1)
		}
	case flag.NArg() > 0:
		if !checkDomains(ctx, checker, flag.Args(), render, os.Stdout) {
			checker.Close()
			os.Exit(1)
		}
	default:
		if err := serve(ctx, log, checker, static.ListenAddr(), interactive, render); err != nil {
			checker.Close()
			fatalf("%v", err)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mailsentry: "+format+"\n", args...)
	os.Exit(1)
}

// checkHealth checks all configured block lists, printing one line per zone.
// It returns whether all zones are healthy.
func checkHealth(ctx context.Context, log *slog.Logger, config mailsentry.Config, w io.Writer) bool {
	ok := true
	for _, zone := range config.Providers {
		zctx, cancel := context.WithTimeout(ctx, config.DNSTimeout)
		err := dnsbl.CheckHealth(zctx, log, config.Resolver, zone)
		cancel()
		if err != nil {
			ok = false
			fmt.Fprintf(w, "%s: unhealthy: %v\n", zone, err)
		} else {
			fmt.Fprintf(w, "%s: ok\n", zone)
		}
	}
	return ok
}

// checkDomains checks each domain once and renders the reports. It returns
// whether all checks produced a report.
func checkDomains(ctx context.Context, checker *mailsentry.Checker, domains []string, render func(io.Writer, *mailsentry.Report) error, w io.Writer) bool {
	ok := true
	for _, domain := range domains {
		report, err := checker.Check(ctx, domain)
		if err != nil {
			ok = false
			fmt.Fprintf(w, "%s: %v\n", domain, err)
			continue
		}
		if err := render(w, report); err != nil {
			ok = false
			fmt.Fprintf(w, "%s: rendering report: %v\n", domain, err)
		}
	}
	return ok
}

// serve runs the HTTP API and, if interactive, the prompt until ctx is done.
// Ending the prompt input stops the HTTP API as well.
func serve(ctx context.Context, log *slog.Logger, checker *mailsentry.Checker, addr string, interactive bool, render func(io.Writer, *mailsentry.Report) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := service.New(checker, service.Config{Addr: addr, Logger: log})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if interactive {
		g.Go(func() error {
			defer cancel()
			return promptLoop(gctx, checker, os.Stdin, os.Stdout, render)
		})
	}
	return g.Wait()
}

// promptLoop reads domains from in until EOF or ctx is done, checking each
// and writing the report to out. Invalid input is asked for again.
func promptLoop(ctx context.Context, checker *mailsentry.Checker, in io.Reader, out io.Writer, render func(io.Writer, *mailsentry.Report) error) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(out, prompt)
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return <-errc
			}
			line = l
		}

		domain := strings.ToLower(strings.TrimSpace(line))
		if _, err := dns.ParseDomain(domain); err != nil {
			fmt.Fprintln(out, "Error: Please enter a valid domain (e.g., example.com)")
			continue
		}

		report, err := checker.Check(ctx, domain)
		var rerr *mailsentry.DomainResolutionError
		switch {
		case errors.As(err, &rerr):
			fmt.Fprintf(out, "No mail hosts for %s: %s\n", rerr.Domain, rerr.Reason)
		case errors.Is(err, mailsentry.ErrCheckerClosed):
			return nil
		case err != nil:
			fmt.Fprintf(out, "Error: %v\n", err)
		default:
			if err := render(out, report); err != nil {
				return err
			}
		}
	}
}
