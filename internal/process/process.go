// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package process holds the lifecycle glue of the bare-server binary:
// signal-driven cancellation and context-bound HTTP serving.
package process

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"
)

// shutdownGrace bounds how long in-flight exchanges may drain on
// shutdown. Hijacked relay sockets are not tracked by the HTTP server
// and are torn down by the outbound pools closing.
const shutdownGrace = 10 * time.Second

// SignalContext returns a context that is canceled on the given signal.
// After the first signal the default handler is restored, so a second
// signal terminates the process even if a relay refuses to drain.
func SignalContext(ctx context.Context, sig os.Signal) (context.Context, context.CancelFunc) {
	sigCtx, stop := signal.NotifyContext(ctx, sig)
	go func() {
		<-sigCtx.Done()
		stop()
	}()
	return sigCtx, stop
}

// HTTPServeContext serves on the listener until the context is
// canceled, then runs onShutdown and drains the server within the
// grace period. onShutdown is where the tunnel core stops routing new
// exchanges and closes its outbound pools; it may be nil. Without a
// TLS config the server speaks plain HTTP.
func HTTPServeContext(ctx context.Context, server *http.Server, lis net.Listener, onShutdown func(), log *slog.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		if server.TLSConfig == nil {
			log.Info("Serving HTTP", "endpoint", server.Addr)
			serveErr <- server.Serve(lis)
		} else {
			log.Info("Serving HTTPS", "endpoint", server.Addr)
			serveErr <- server.ServeTLS(lis, "", "")
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	if onShutdown != nil {
		onShutdown()
	}

	log.Info("Shutting down server", "grace", shutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		// Exchanges still running after the grace period are cut off.
		return errors.Join(err, server.Close())
	}
	return nil
}
