// Package service exposes domain checks over HTTP.
//
// Routes:
//
//	POST /api/check           {"domain": "example.com"}
//	GET  /api/check/:domain
//	GET  /api/status
//	GET  /metrics
//
// Reports are returned as JSON, or as MessagePack when the request accepts
// "application/msgpack". Every response carries the run identifier in the
// X-Run-Id header, it is also logged with the run.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/mailsentry"
	"github.com/synqronlabs/mailsentry/utils"
)

const (
	Version = "1.0.0"

	// MaxBodySize is the maximum size of a request body.
	MaxBodySize = 64 * 1024

	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"
)

var metricRequest = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mailsentry_http_request_duration_seconds",
		Help:    "HTTP API requests by route and status code.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	},
	[]string{"route", "code"},
)

// Checker runs a domain check, implemented by *mailsentry.Checker.
type Checker interface {
	Check(ctx context.Context, domain string) (*mailsentry.Report, error)
}

// Config holds the options of a Server.
type Config struct {
	// Addr is the listen address. Default: ":5001".
	Addr string

	// Logger for requests. Default: slog.Default().
	Logger *slog.Logger

	// ShutdownTimeout bounds waiting for requests in progress when the
	// context of ListenAndServe is done. Default: 70 seconds.
	ShutdownTimeout time.Duration
}

const (
	DefaultAddr            = ":5001"
	DefaultShutdownTimeout = 70 * time.Second
)

// Server serves the HTTP API.
type Server struct {
	checker Checker
	config  Config
	log     *slog.Logger
	router  *httprouter.Router
}

// New returns a Server running checks with checker.
func New(checker Checker, config Config) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		checker: checker,
		config:  config,
		log:     config.Logger,
	}

	r := httprouter.New()
	r.POST("/api/check", s.handle("check", s.checkPost))
	r.GET("/api/check/:domain", s.handle("check", s.checkGet))
	r.GET("/api/status", s.handle("status", s.status))
	r.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, x any) {
		s.log.Error("http handler panic", slog.String("path", req.URL.Path), slog.Any("panic", x))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.log.Info("http service listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type statusBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type checkRequest struct {
	Domain *string `json:"domain"`
}

// apiHandler handles a request with a run identifier and returns the status
// code it wrote, for metrics and logging.
type apiHandler func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, log *slog.Logger) int

func (s *Server) handle(route string, fn apiHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		runID := utils.NewRunID()
		w.Header().Set("X-Run-Id", runID)
		log := s.log.With(slog.String("run", runID))

		r = r.WithContext(mailsentry.WithRunID(r.Context(), runID))
		code := fn(w, r, ps, log)

		metricRequest.WithLabelValues(route, strconv.Itoa(code)).Observe(time.Since(start).Seconds())
		log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("code", code),
			slog.Duration("duration", time.Since(start)))
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, ps httprouter.Params, log *slog.Logger) int {
	return writeJSON(w, http.StatusOK, statusBody{"MailSentry API is running", Version})
}

func (s *Server) checkPost(w http.ResponseWriter, r *http.Request, ps httprouter.Params, log *slog.Logger) int {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	var req checkRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
		}
		log.Debug("bad request body", slog.Any("error", err))
		return writeJSON(w, http.StatusBadRequest, errorBody{Error: "Domain is required in JSON payload"})
	}
	if req.Domain == nil {
		return writeJSON(w, http.StatusBadRequest, errorBody{Error: "Domain is required in JSON payload"})
	}
	return s.check(w, r, *req.Domain, log)
}

func (s *Server) checkGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params, log *slog.Logger) int {
	return s.check(w, r, ps.ByName("domain"), log)
}

func (s *Server) check(w http.ResponseWriter, r *http.Request, domain string, log *slog.Logger) int {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return writeJSON(w, http.StatusBadRequest, errorBody{Error: "Domain cannot be empty"})
	}

	report, err := s.checker.Check(r.Context(), domain)
	var rerr *mailsentry.DomainResolutionError
	switch {
	case err == nil:
	case errors.Is(err, mailsentry.ErrInvalidDomain):
		return writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &rerr):
		return writeJSON(w, http.StatusInternalServerError, errorBody{Error: rerr.Error(), Reason: string(rerr.Reason)})
	case errors.Is(err, mailsentry.ErrCheckerClosed):
		return writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service is shutting down"})
	default:
		log.Error("check failed", slog.String("domain", domain), slog.Any("error", err))
		return writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error: " + err.Error()})
	}

	if acceptsMsgpack(r) {
		return writeMsgpack(w, http.StatusOK, report, log)
	}
	return writeJSON(w, http.StatusOK, report)
}

// acceptsMsgpack returns whether the Accept header lists MessagePack.
func acceptsMsgpack(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err == nil && mt == contentTypeMsgpack {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) int {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.Encode(v)
	return code
}

func writeMsgpack(w http.ResponseWriter, code int, v msgp.Marshaler, log *slog.Logger) int {
	buf, err := v.MarshalMsg(nil)
	if err != nil {
		log.Error("encoding msgpack", slog.Any("error", err))
		return writeJSON(w, http.StatusInternalServerError, errorBody{Error: "encoding response"})
	}
	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(code)
	w.Write(buf)
	return code
}
