// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only
package v3

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/fetch"
)

func newTestServer(t *testing.T) *bare.Server {
	t.Helper()

	client := fetch.New(fetch.Options{})
	t.Cleanup(client.Close)

	server, err := bare.New("/", bare.Options{})
	require.NoError(t, err)
	Register(server, client, slog.Default())
	return server
}

func TestTunnelRequest(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/deep/path?q=1", r.URL.RequestURI())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("deep"))
	}))
	defer upstream.Close()

	server := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/v3/", nil)
	r.Header.Set("X-Bare-Url", upstream.URL+"/deep/path?q=1")
	r.Header.Set("X-Bare-Headers", `{}`)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, r)

	require.Equal(http.StatusOK, rec.Code)
	assert.Equal("200", rec.Header().Get("X-Bare-Status"))
	assert.Equal("deep", rec.Body.String())
}

func TestTunnelRequestRejections(t *testing.T) {
	testCases := map[string]struct {
		header   map[string]string
		wantCode string
		wantID   string
	}{
		"missing url": {
			header:   map[string]string{"X-Bare-Headers": `{}`},
			wantCode: bare.CodeMissingHeader,
			wantID:   "request.headers.x-bare-url",
		},
		"unsupported scheme": {
			header: map[string]string{
				"X-Bare-Url":     "ftp://example.com/",
				"X-Bare-Headers": `{}`,
			},
			wantCode: bare.CodeInvalidHeader,
			wantID:   "request.headers.x-bare-url",
		},
		"forbidden send header": {
			header: map[string]string{
				"X-Bare-Url":     "http://example.com/",
				"X-Bare-Headers": `{"Connection":"close"}`,
			},
			wantCode: bare.CodeForbiddenHeader,
			wantID:   "request.headers.x-bare-headers",
		},
		"forbidden forward header": {
			header: map[string]string{
				"X-Bare-Url":             "http://example.com/",
				"X-Bare-Headers":         `{}`,
				"X-Bare-Forward-Headers": "origin",
			},
			wantCode: bare.CodeForbiddenHeader,
			wantID:   "request.headers.x-bare-forward-headers",
		},
		"invalid pass status": {
			header: map[string]string{
				"X-Bare-Url":         "http://example.com/",
				"X-Bare-Headers":     `{}`,
				"X-Bare-Pass-Status": "teapot",
			},
			wantCode: bare.CodeInvalidHeader,
			wantID:   "request.headers.x-bare-pass-status",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			server := newTestServer(t)

			r := httptest.NewRequest(http.MethodGet, "/v3/", nil)
			for name, value := range tc.header {
				r.Header.Set(name, value)
			}

			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, r)

			require.Equal(http.StatusBadRequest, rec.Code)
			var body bare.Error
			require.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(tc.wantCode, body.Code)
			assert.Equal(tc.wantID, body.ID)
		})
	}
}
