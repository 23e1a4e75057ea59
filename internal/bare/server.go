// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package bare implements the server core of the bare tunnel: prefix
// routing, the CORS and error funnel, rate limiting and lifecycle. The
// version handlers register themselves into the core's route tables at
// startup; the HTTP listener is owned by the caller, which routes
// exchanges here based on ShouldRoute.
package bare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tomphttp/bare-server-go/internal/ratelimit"
)

// Handler serves one tunnel endpoint. Returning an error funnels it into
// the JSON error writer.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// UpgradeHandler serves one WebSocket endpoint. The handler owns the
// client socket once it hijacks or upgrades; errors raised before that
// are funneled like HTTP errors.
type UpgradeHandler func(ctx context.Context, w http.ResponseWriter, req *Request) error

// Response is an envelope response produced by a Handler. The body is
// streamed to the client and closed if it is a closer.
type Response struct {
	Status int
	Header http.Header
	Body   io.Reader
}

// JSONResponse builds an envelope response carrying a JSON body.
func JSONResponse(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response body: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: header, Body: strings.NewReader(string(body))}, nil
}

// RateLimiter guards the tunnel endpoints per client IP.
type RateLimiter interface {
	Consume(ip string) ratelimit.Result
	Peek(ip string) ratelimit.Result
}

// Options configures the server core.
type Options struct {
	// LogErrors includes message and stack in UNKNOWN error bodies.
	LogErrors bool
	// Maintainer is surfaced in the instance manifest.
	Maintainer *Maintainer
	// Limiter, when set, applies the per-IP token bucket.
	Limiter RateLimiter

	Log *slog.Logger
}

// Server is the bare tunnel core mounted under a URL prefix.
type Server struct {
	prefix     string
	opts       Options
	log        *slog.Logger
	routes     map[string]Handler
	upgrades   map[string]UpgradeHandler
	registered []string
	closed     atomic.Bool
	cleanup    []func()
}

// New creates a server core mounted at prefix. The prefix must begin and
// end with a slash.
func New(prefix string, opts Options) (*Server, error) {
	if !strings.HasPrefix(prefix, "/") || !strings.HasSuffix(prefix, "/") {
		return nil, fmt.Errorf("mount prefix %q must begin and end with a slash", prefix)
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	s := &Server{
		prefix:   prefix,
		opts:     opts,
		log:      opts.Log,
		routes:   map[string]Handler{},
		upgrades: map[string]UpgradeHandler{},
	}
	s.Handle("/", s.serveManifest)
	return s, nil
}

// Handle registers an HTTP route under the mount prefix. Routes are
// write-once at startup.
func (s *Server) Handle(path string, h Handler) {
	s.routes[path] = h
}

// HandleUpgrade registers a WebSocket route under the mount prefix.
func (s *Server) HandleUpgrade(path string, h UpgradeHandler) {
	s.upgrades[path] = h
}

// RegisterVersion adds a protocol version to the instance manifest.
func (s *Server) RegisterVersion(v string) {
	s.registered = append(s.registered, v)
}

func (s *Server) versions() []string {
	return s.registered
}

// OnClose registers teardown to run when the server closes, such as
// destroying connection pools.
func (s *Server) OnClose(fn func()) {
	s.cleanup = append(s.cleanup, fn)
}

// Close stops routing and runs the registered teardown.
func (s *Server) Close() {
	if s.closed.Swap(true) {
		return
	}
	for _, fn := range s.cleanup {
		fn()
	}
}

// ShouldRoute reports whether the exchange belongs to this server. The
// caller must not hand over requests outside the mount prefix; the core
// never touches their sockets.
func (s *Server) ShouldRoute(r *http.Request) bool {
	return !s.closed.Load() && strings.HasPrefix(r.URL.Path, s.prefix)
}

// ServeHTTP dispatches an exchange into the route tables.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsUpgrade(r) {
		s.routeUpgrade(w, r)
		return
	}
	s.routeRequest(w, r)
}

func (s *Server) routeRequest(w http.ResponseWriter, r *http.Request) {
	writeCORS(w.Header())
	route := s.subPath(r)
	requestsTotal.WithLabelValues(s.routeLabel(route)).Inc()

	// Pre-flight policy: OPTIONS short-circuits before any validation.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.checkRateLimit(w, r) {
		return
	}

	handler, ok := s.routes[route]
	if !ok {
		s.writeError(w, ErrNotFound())
		return
	}

	resp, err := handler(r.Context(), NewRequest(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeResponse(w, r, resp)
}

func (s *Server) routeUpgrade(w http.ResponseWriter, r *http.Request) {
	// The CORS set rides on every non-hijacked response, including the
	// rate limiter's. A successful upgrade abandons these headers with
	// the rest of the buffered response.
	writeCORS(w.Header())
	route := s.subPath(r)
	requestsTotal.WithLabelValues(s.routeLabel(route)).Inc()

	if !s.checkRateLimit(w, r) {
		return
	}

	handler, ok := s.upgrades[route]
	if !ok {
		s.writeError(w, ErrNotFound())
		return
	}

	req := NewRequest(r)
	if err := handler(r.Context(), w, req); err != nil {
		s.log.Debug("WebSocket relay failed", "route", route, "error", err)
		if !req.Hijacked() {
			s.writeError(w, err)
		}
	}
}

// subPath strips the mount prefix from the request path.
func (s *Server) subPath(r *http.Request) string {
	return "/" + strings.TrimPrefix(r.URL.Path, s.prefix)
}

// routeLabel folds unregistered sub-paths into a single metric label so
// clients cannot mint an unbounded number of series.
func (s *Server) routeLabel(route string) string {
	if _, ok := s.routes[route]; ok {
		return route
	}
	if _, ok := s.upgrades[route]; ok {
		return route
	}
	return "unknown"
}

func (s *Server) serveManifest(_ context.Context, _ *Request) (*Response, error) {
	return JSONResponse(http.StatusOK, s.manifest())
}

// checkRateLimit applies the per-IP bucket. Keep-alive exchanges consume
// a token; one-shot exchanges only need a token to remain.
func (s *Server) checkRateLimit(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Limiter == nil {
		return true
	}

	ip := ratelimit.ClientIP(r)
	var res ratelimit.Result
	if ratelimit.KeepAlive(r) {
		res = s.opts.Limiter.Consume(ip)
	} else {
		res = s.opts.Limiter.Peek(ip)
	}
	if res.Allowed {
		return true
	}

	retryAfter := int(time.Until(res.Reset).Seconds()) + 1
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", strconv.Itoa(retryAfter))
	h.Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(retryAfter))
	errorsTotal.WithLabelValues(CodeConnectionLimit).Inc()
	w.WriteHeader(http.StatusTooManyRequests)
	body, _ := json.Marshal(&Error{
		Code:    CodeConnectionLimit,
		ID:      "error.TooManyConnections",
		Message: "Too many open connections from your IP.",
	})
	_, _ = w.Write(body)
	return false
}

// writeResponse streams an envelope response to the client, flushing as
// the remote body arrives.
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, resp *Response) {
	for name, values := range resp.Header {
		w.Header()[name] = values
	}
	w.WriteHeader(resp.Status)

	if resp.Body == nil {
		return
	}
	if closer, ok := resp.Body.(io.Closer); ok {
		defer closer.Close()
	}
	if err := copyFlush(w, resp.Body); err != nil {
		if errors.Is(err, context.Canceled) {
			s.log.Debug("Client closed the connection mid-body", "path", r.URL.Path)
		} else {
			s.log.Warn("Streaming response body failed", "path", r.URL.Path, "error", err)
		}
	}
}

// copyFlush copies body to the client with a small buffer, flushing
// after each chunk so streaming responses pass through unbuffered.
func copyFlush(w http.ResponseWriter, body io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 8*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			_ = rc.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// writeError funnels a handler error into a JSON response. Bare errors
// carry their own status and body; anything else becomes UNKNOWN.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var bareErr *Error
	if !errors.As(err, &bareErr) {
		bareErr = &Error{
			Status: http.StatusInternalServerError,
			Code:   CodeUnknown,
			ID:     fmt.Sprintf("error.%T", err),
		}
		if s.opts.LogErrors {
			bareErr.Message = err.Error()
			bareErr.Stack = string(debug.Stack())
		}
		s.log.Error("Unexpected handler error", "error", err)
	}

	errorsTotal.WithLabelValues(bareErr.Code).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(bareErr.Status)
	body, merr := json.Marshal(bareErr)
	if merr != nil {
		return
	}
	_, _ = w.Write(body)
}

// writeCORS appends the fixed CORS set every tunnel response carries.
func writeCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Allow-Methods", "*")
	h.Set("Access-Control-Expose-Headers", "*")
	h.Set("Access-Control-Max-Age", "7200")
	h.Set("X-Robots-Tag", "noindex")
}
