// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package bare

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Request wraps an inbound exchange with the parsed query and, for
// upgrades, access to the native socket.
type Request struct {
	*http.Request
	Query url.Values

	hijacked bool
}

// NewRequest wraps an inbound request.
func NewRequest(r *http.Request) *Request {
	return &Request{Request: r, Query: r.URL.Query()}
}

// Hijack takes over the client socket of an upgrade exchange. After a
// successful hijack the caller owns the connection; the server core
// will not touch the exchange again.
func (r *Request) Hijack(w http.ResponseWriter) (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("connection does not support hijacking")
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijacking connection: %w", err)
	}
	r.hijacked = true
	return conn, brw, nil
}

// MarkHijacked records that the handler took over the client socket by
// other means, such as a WebSocket upgrader.
func (r *Request) MarkHijacked() {
	r.hijacked = true
}

// Hijacked reports whether the client socket was taken over.
func (r *Request) Hijacked() bool {
	return r.hijacked
}

// IsUpgrade reports whether the exchange asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return headerContainsToken(r.Header, "Connection", "upgrade") &&
		headerContainsToken(r.Header, "Upgrade", "websocket")
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, field := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(field), token) {
				return true
			}
		}
	}
	return false
}
