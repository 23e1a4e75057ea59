// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// package cmd defines the bare-server's root command.
package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/fetch"
	"github.com/tomphttp/bare-server-go/internal/logging"
	"github.com/tomphttp/bare-server-go/internal/meta"
	"github.com/tomphttp/bare-server-go/internal/process"
	"github.com/tomphttp/bare-server-go/internal/ratelimit"
	v1 "github.com/tomphttp/bare-server-go/internal/v1"
	v2 "github.com/tomphttp/bare-server-go/internal/v2"
	v3 "github.com/tomphttp/bare-server-go/internal/v3"
)

var (
	logLevel          string
	logFile           string
	directory         string
	host              string
	port              int
	logErrors         bool
	localAddress      string
	family            int
	allowLocal        bool
	maintainerEmail   string
	maintainerWebsite string
	redisURL          string
	requestsPerMinute int
	tlsCertPath       string
	tlsKeyPath        string
	metricsPort       int
)

// config mirrors the flag set for validation.
type config struct {
	Directory         string `validate:"required,startswith=/,endswith=/"`
	Port              int    `validate:"min=1,max=65535"`
	LocalAddress      string `validate:"omitempty,ip"`
	Family            int    `validate:"oneof=0 4 6"`
	MaintainerEmail   string `validate:"omitempty,email"`
	MaintainerWebsite string `validate:"omitempty,url"`
	RedisURL          string `validate:"omitempty,uri"`
	RequestsPerMinute int    `validate:"min=0"`
	MetricsPort       int    `validate:"min=0,max=65535"`
}

// New returns the root command of the bare-server.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bare-server",
		Short:   "The bare-server relays HTTP(S) requests and WebSocket sessions on behalf of browser-resident clients.",
		Args:    cobra.NoArgs,
		Version: bare.Version,
		RunE:    runServe,
	}

	cmd.Flags().StringVarP(&logLevel, logging.Flag, "l", logging.DefaultFlagValue, logging.FlagInfo)
	cmd.Flags().StringVar(&logFile, "log-file", "", "If set, logs are additionally written to this file with rotation.")
	cmd.Flags().StringVarP(&directory, "directory", "d", "/", "The URL prefix the bare server is mounted under. Must begin and end with a slash.")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "The address the listening socket binds to.")
	cmd.Flags().IntVarP(&port, "port", "p", 80, "The port the listening socket binds to.")
	cmd.Flags().BoolVarP(&logErrors, "errors", "e", false, "If set, UNKNOWN error bodies include the error message and stack.")
	cmd.Flags().StringVar(&localAddress, "local-address", "", "The local IP outbound requests bind to.")
	cmd.Flags().IntVarP(&family, "family", "f", 0, "The IP family used for outbound requests: 0 (any), 4 or 6.")
	cmd.Flags().BoolVar(&allowLocal, "allow-local", false, "If set, outbound requests may target loopback, private and link-local addresses. Only intended for testing.")
	must(cmd.Flags().MarkHidden("allow-local"))
	cmd.Flags().StringVarP(&maintainerEmail, "maintainer-email", "m", "", "The maintainer email surfaced in the instance manifest.")
	cmd.Flags().StringVarP(&maintainerWebsite, "maintainer-website", "w", "", "The maintainer website surfaced in the instance manifest.")
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "If set, WebSocket metadata is kept in the Redis at this URL instead of in memory.")
	cmd.Flags().IntVar(&requestsPerMinute, "requests-per-minute", 0, "Per-IP request budget. 0 disables rate limiting.")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "If set, Prometheus metrics and a health endpoint are served on this port.")

	// TLS
	cmd.Flags().StringVar(&tlsCertPath, "tlsCertPath", "", "The path to the TLS certificate. If not provided, the server will start without TLS.")
	cmd.Flags().StringVar(&tlsKeyPath, "tlsKeyPath", "", "The path to the TLS key. If not provided, the server will start without TLS.")
	cmd.MarkFlagsRequiredTogether("tlsCertPath", "tlsKeyPath")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logging.NewLogger(logLevel)
	if logFile != "" {
		log = logging.NewFileLogger(logLevel, os.Stderr, logFile)
	}
	log.Info("bare-server", "version", bare.Version)

	cfg := config{
		Directory:         directory,
		Port:              port,
		LocalAddress:      localAddress,
		Family:            family,
		MaintainerEmail:   maintainerEmail,
		MaintainerWebsite: maintainerWebsite,
		RedisURL:          redisURL,
		RequestsPerMinute: requestsPerMinute,
		MetricsPort:       metricsPort,
	}
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	ctx := cmd.Context()
	store, closeStore, err := buildStore(ctx, log)
	if err != nil {
		return err
	}
	adapter := meta.NewAdapter(store, log)

	client := fetch.New(fetch.Options{
		LocalAddress: localAddress,
		Family:       family,
		BlockLocal:   !allowLocal,
		Log:          log,
	})

	var maintainer *bare.Maintainer
	if maintainerEmail != "" || maintainerWebsite != "" {
		maintainer = &bare.Maintainer{Email: maintainerEmail, Website: maintainerWebsite}
	}
	var limiter bare.RateLimiter
	if requestsPerMinute > 0 {
		limiter = ratelimit.New(requestsPerMinute, time.Minute)
	}

	server, err := bare.New(directory, bare.Options{
		LogErrors:  logErrors,
		Maintainer: maintainer,
		Limiter:    limiter,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("creating server core: %w", err)
	}
	server.OnClose(client.Close)
	server.OnClose(closeStore)
	defer server.Close()

	v1.Register(server, client, adapter, log)
	v2.Register(server, client, adapter, log)
	v3.Register(server, client, log)

	lis, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", port, err)
	}
	tlsConfig, err := getTLSConfig(tlsCertPath, tlsKeyPath)
	if err != nil {
		return fmt.Errorf("loading TLS config: %w", err)
	}

	httpServer := &http.Server{
		Addr:      lis.Addr().String(),
		Handler:   routeHandler(server),
		TLSConfig: tlsConfig,
		ErrorLog:  logging.NewLogWrapper(log),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := adapter.RunReaper(gCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return process.HTTPServeContext(gCtx, httpServer, lis, server.Close, log)
	})
	if metricsPort > 0 {
		g.Go(func() error {
			return serveMetrics(gCtx, metricsPort, log)
		})
	}
	return g.Wait()
}

// routeHandler hands exchanges under the mount prefix to the bare core.
// Everything else is outside the tunnel's scope.
func routeHandler(server *bare.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if server.ShouldRoute(r) {
			server.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// serveMetrics runs the operational endpoint on its own port so it
// never collides with the mount prefix.
func serveMetrics(ctx context.Context, port int, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	lis, err := net.Listen("tcp", net.JoinHostPort("", fmt.Sprint(port)))
	if err != nil {
		return fmt.Errorf("listening on metrics port %d: %w", port, err)
	}
	server := &http.Server{
		Addr:     lis.Addr().String(),
		Handler:  mux,
		ErrorLog: logging.NewLogWrapper(log),
	}
	return process.HTTPServeContext(ctx, server, lis, nil, log)
}

// buildStore selects the meta store backend.
func buildStore(ctx context.Context, log *slog.Logger) (meta.Store, func(), error) {
	if redisURL == "" {
		return meta.NewMemoryStore(), func() {}, nil
	}
	store, err := meta.NewRedisStore(ctx, redisURL, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn("Closing redis store failed", "error", err)
		}
	}
	return store, closeStore, nil
}

// getTLSConfig returns the TLS configuration for production.
func getTLSConfig(tlsCertPath, tlsKeyPath string) (*tls.Config, error) {
	if tlsCertPath == "" && tlsKeyPath == "" {
		return nil, nil
	}
	getCert := func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(tlsCertPath, tlsKeyPath)
		return &cert, err
	}
	if _, err := getCert(nil); err != nil {
		return nil, err
	}
	return &tls.Config{GetCertificate: getCert}, nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
