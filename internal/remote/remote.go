// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package remote models the target of a tunneled request.
package remote

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Remote identifies the target server of a tunneled exchange.
type Remote struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Path     string `json:"path"`
}

// ValidProtocol reports whether p is a scheme the tunnel may dial.
func ValidProtocol(p string) bool {
	switch p {
	case "http:", "https:", "ws:", "wss:":
		return true
	}
	return false
}

// ParsePort parses a port carried as a string and validates its range.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing port %q: %w", s, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// URL converts the remote into a dialable URL. The bare path field may
// carry a query string, so the whole remote is parsed as one URL.
func (r Remote) URL() (*url.URL, error) {
	u, err := url.Parse(r.String())
	if err != nil {
		return nil, fmt.Errorf("building remote URL: %w", err)
	}
	return u, nil
}

// String renders the remote as a URL string including the path.
func (r Remote) String() string {
	return r.Protocol + "//" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) + r.Path
}

// FromURL extracts a Remote from a URL, resolving the scheme's default
// port when the URL does not carry one.
func FromURL(u *url.URL) (Remote, error) {
	protocol := u.Scheme + ":"
	if !ValidProtocol(protocol) {
		return Remote{}, fmt.Errorf("unsupported protocol %q", protocol)
	}

	port := 0
	if p := u.Port(); p != "" {
		parsed, err := ParsePort(p)
		if err != nil {
			return Remote{}, err
		}
		port = parsed
	} else {
		port = DefaultPort(u.Scheme)
		if port == 0 {
			return Remote{}, fmt.Errorf("no default port for scheme %q", u.Scheme)
		}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return Remote{
		Protocol: protocol,
		Host:     u.Hostname(),
		Port:     port,
		Path:     path,
	}, nil
}

// DefaultPort returns the well-known port for a scheme, or 0.
func DefaultPort(scheme string) int {
	switch scheme {
	case "http", "ws":
		return 80
	case "https", "wss":
		return 443
	}
	return 0
}
