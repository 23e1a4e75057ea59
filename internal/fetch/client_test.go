// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only
package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

func TestFetch(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("custom-value", r.Header.Get("X-Custom"))
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	client := New(Options{})
	defer client.Close()

	u, err := url.Parse(upstream.URL)
	require.NoError(err)

	header := http.Header{}
	header.Set("X-Custom", "custom-value")
	resp, err := client.Fetch(ctx, http.MethodGet, u, header, nil)
	require.NoError(err)
	defer resp.Body.Close()

	assert.Equal(http.StatusTeapot, resp.StatusCode)
	assert.Equal("yes", resp.Header.Get("X-Upstream"))
}

func TestFetchCanceledMidBody(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	aborted := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("chunk"))
		w.(http.Flusher).Flush()
		// Stall until the tunnel drops the outbound request.
		<-r.Context().Done()
		close(aborted)
	}))
	defer upstream.Close()

	client := New(Options{})
	defer client.Close()

	u, err := url.Parse(upstream.URL)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	resp, err := client.Fetch(ctx, http.MethodGet, u, nil, nil)
	require.NoError(err)
	defer resp.Body.Close()

	buf := make([]byte, 5)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(err)
	assert.Equal("chunk", string(buf))

	// Canceling the exchange mid-body aborts the upstream request.
	cancel()
	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream did not observe the abort")
	}

	_, err = resp.Body.Read(buf)
	assert.Error(err)
}

func TestFetchBlocksLocal(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	client := New(Options{BlockLocal: true})
	defer client.Close()

	u, err := url.Parse(upstream.URL)
	require.NoError(err)

	_, err = client.Fetch(context.Background(), http.MethodGet, u, nil, nil)
	assert.ErrorContains(err, "Forbidden IP")
}

func TestFetchFilterHook(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	blocked := errors.New("blocked by policy")
	client := New(Options{FilterRemote: func(*url.URL) error { return blocked }})
	defer client.Close()

	u, err := url.Parse("http://example.com/")
	require.NoError(err)

	_, err = client.Fetch(context.Background(), http.MethodGet, u, nil, nil)
	assert.ErrorIs(err, blocked)
}

func TestLookupFiltersResolvedIPs(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client := New(Options{
		BlockLocal: true,
		Lookup: func(context.Context, string) ([]net.IP, error) {
			return nil, errors.New("resolved only to forbidden addresses")
		},
	})
	defer client.Close()

	u, err := url.Parse("http://rebinding.example/")
	require.NoError(err)

	_, err = client.Fetch(context.Background(), http.MethodGet, u, nil, nil)
	assert.ErrorContains(err, "forbidden")
}

func TestMapTransportError(t *testing.T) {
	testCases := map[string]struct {
		err      error
		wantCode string
	}{
		"dns not found": {
			err:      &net.DNSError{Err: "no such host", Name: "example.invalid", IsNotFound: true},
			wantCode: bare.CodeHostNotFound,
		},
		"connection refused": {
			err:      &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			wantCode: bare.CodeConnectionRefused,
		},
		"connection reset": {
			err:      &net.OpError{Op: "read", Err: syscall.ECONNRESET},
			wantCode: bare.CodeConnectionReset,
		},
		"timeout": {
			err:      context.DeadlineExceeded,
			wantCode: bare.CodeConnectionTimeout,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mapped := mapTransportError(tc.err)
			var bareErr *bare.Error
			require.ErrorAs(mapped, &bareErr)
			assert.Equal(tc.wantCode, bareErr.Code)
			assert.Equal(http.StatusInternalServerError, bareErr.Status)
		})
	}

	t.Run("unrecognized errors pass through", func(t *testing.T) {
		err := errors.New("something else")
		assert.Equal(t, err, mapTransportError(err))
	})
}
