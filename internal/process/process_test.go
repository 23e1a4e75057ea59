// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only
package process

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPServeContext(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)

	server := &http.Server{
		Addr: lis.Addr().String(),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	var shutdownRan atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- HTTPServeContext(ctx, server, lis, func() { shutdownRan.Store(true) }, slog.Default())
	}()

	resp, err := http.Get("http://" + lis.Addr().String())
	require.NoError(err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(err)
	resp.Body.Close()
	assert.Equal("ok", string(body))

	// Cancellation runs the shutdown hook and drains the server.
	cancel()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
	assert.True(shutdownRan.Load())

	_, err = http.Get("http://" + lis.Addr().String())
	assert.Error(err)
}

func TestHTTPServeContextListenerError(t *testing.T) {
	require := require.New(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	lis.Close()

	server := &http.Server{Addr: lis.Addr().String()}
	err = HTTPServeContext(context.Background(), server, lis, nil, slog.Default())
	require.Error(err)
}
