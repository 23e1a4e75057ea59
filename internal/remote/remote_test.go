// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only
package remote

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePort(t *testing.T) {
	testCases := map[string]struct {
		in      string
		want    int
		wantErr bool
	}{
		"valid port":      {in: "8080", want: 8080},
		"lowest port":     {in: "1", want: 1},
		"highest port":    {in: "65535", want: 65535},
		"zero":            {in: "0", wantErr: true},
		"out of range":    {in: "65536", wantErr: true},
		"negative":        {in: "-1", wantErr: true},
		"not a number":    {in: "https", wantErr: true},
		"empty":           {in: "", wantErr: true},
		"trailing letter": {in: "80a", wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := ParsePort(tc.in)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}

func TestURL(t *testing.T) {
	testCases := map[string]struct {
		remote Remote
		want   string
	}{
		"plain path": {
			remote: Remote{Protocol: "https:", Host: "example.com", Port: 443, Path: "/index.html"},
			want:   "https://example.com:443/index.html",
		},
		"path with query": {
			remote: Remote{Protocol: "http:", Host: "example.com", Port: 80, Path: "/search?q=a&b=2"},
			want:   "http://example.com:80/search?q=a&b=2",
		},
		"websocket": {
			remote: Remote{Protocol: "wss:", Host: "echo.example.com", Port: 443, Path: "/"},
			want:   "wss://echo.example.com:443/",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			u, err := tc.remote.URL()
			require.NoError(err)
			assert.Equal(tc.want, u.String())
		})
	}
}

func TestFromURL(t *testing.T) {
	testCases := map[string]struct {
		in      string
		want    Remote
		wantErr bool
	}{
		"explicit port": {
			in:   "https://example.com:8443/path",
			want: Remote{Protocol: "https:", Host: "example.com", Port: 8443, Path: "/path"},
		},
		"default https port": {
			in:   "https://example.com/path",
			want: Remote{Protocol: "https:", Host: "example.com", Port: 443, Path: "/path"},
		},
		"default ws port": {
			in:   "ws://example.com",
			want: Remote{Protocol: "ws:", Host: "example.com", Port: 80, Path: "/"},
		},
		"query preserved": {
			in:   "http://example.com/search?q=a",
			want: Remote{Protocol: "http:", Host: "example.com", Port: 80, Path: "/search?q=a"},
		},
		"unsupported scheme": {
			in:      "ftp://example.com/",
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			u, err := url.Parse(tc.in)
			require.NoError(err)

			got, err := FromURL(u)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}
