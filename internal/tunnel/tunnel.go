// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package tunnel holds the envelope logic shared by the protocol
// versions: outbound header assembly, response encoding and the
// forbidden header policy.
package tunnel

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/headers"
	"github.com/tomphttp/bare-server-go/internal/remote"
)

// Headers that must never be transmitted to the remote even when the
// client lists them.
var forbiddenSendHeaders = []string{"connection", "content-length", "transfer-encoding"}

// Headers that must never be copied from the inbound request.
var forbiddenForwardHeaders = []string{"connection", "transfer-encoding", "host", "origin", "referer"}

// Headers that must never be echoed at the envelope HTTP layer. The
// CORS set is owned by the server core.
var forbiddenPassHeaders = []string{
	"vary", "connection", "transfer-encoding",
	"access-control-allow-headers", "access-control-allow-methods",
	"access-control-allow-origin", "access-control-expose-headers",
	"access-control-max-age", "access-control-allow-credentials",
	"access-control-request-headers", "access-control-request-method",
}

// DefaultPassHeaders are echoed at the envelope layer when present.
var DefaultPassHeaders = []string{"content-encoding", "content-length", "last-modified"}

// CachePassHeaders are additionally echoed in cache mode.
var CachePassHeaders = []string{"cache-control", "etag"}

// CacheForwardHeaders are additionally forwarded in cache mode.
var CacheForwardHeaders = []string{"if-modified-since", "if-none-match", "cache-control"}

// DefaultForwardHeaders returns the headers copied from the inbound
// request by default. v1 and v2 relay the WebSocket handshake fields
// through the tunnel endpoint, v3 does not.
func DefaultForwardHeaders(ws bool) []string {
	base := []string{"accept-encoding", "accept-language"}
	if ws {
		base = append(base, "sec-websocket-extensions", "sec-websocket-key", "sec-websocket-version")
	}
	return base
}

// ForbiddenSend reports whether name may never be transmitted outbound.
func ForbiddenSend(name string) bool {
	return slices.Contains(forbiddenSendHeaders, strings.ToLower(name))
}

// ForbiddenForward reports whether name may not appear in a forward list.
func ForbiddenForward(name string) bool {
	return slices.Contains(forbiddenForwardHeaders, strings.ToLower(name))
}

// ForbiddenPass reports whether name may not appear in a pass list.
func ForbiddenPass(name string) bool {
	return slices.Contains(forbiddenPassHeaders, strings.ToLower(name))
}

// Outbound assembles the outbound header set: the client's bare headers
// plus the inbound values of the forward list. Keys keep the exact case
// the client sent; forwarded names use their inbound capitalization.
// Hop-managed headers are dropped regardless of what was requested.
func Outbound(send headers.Headers, forward []string, inbound http.Header) http.Header {
	out := make(http.Header, len(send)+len(forward))
	for name, value := range send {
		if slices.Contains(forbiddenSendHeaders, strings.ToLower(name)) {
			continue
		}
		out[name] = value.Values
	}
	for _, name := range forward {
		values := inbound.Values(name)
		if len(values) == 0 {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = values
	}
	return out
}

// ParseRemote reads the split remote tuple of the v1/v2 envelope.
func ParseRemote(req *bare.Request) (remote.Remote, error) {
	var r remote.Remote
	for _, name := range []string{"x-bare-host", "x-bare-port", "x-bare-protocol", "x-bare-path"} {
		value := req.Header.Get(name)
		if value == "" {
			return r, bare.ErrMissingHeader(name)
		}
		switch name {
		case "x-bare-host":
			r.Host = value
		case "x-bare-port":
			port, err := remote.ParsePort(value)
			if err != nil {
				return r, bare.ErrInvalidHeader(name, "Header was not a valid port.")
			}
			r.Port = port
		case "x-bare-protocol":
			if !remote.ValidProtocol(value) {
				return r, bare.ErrInvalidHeader(name, "Header was invalid.")
			}
			r.Protocol = value
		case "x-bare-path":
			r.Path = value
		}
	}
	return r, nil
}

// ParseBareHeaders joins any split fragments and decodes x-bare-headers.
func ParseBareHeaders(req *bare.Request) (headers.Headers, error) {
	if err := headers.JoinBareHeaders(req.Header); err != nil {
		return nil, err
	}
	raw := req.Header.Get(headers.BareHeadersName)
	if raw == "" {
		return nil, bare.ErrMissingHeader("x-bare-headers")
	}
	return headers.Parse(raw, "x-bare-headers")
}

// ResponseOptions controls how a remote response is encoded into an
// envelope response.
type ResponseOptions struct {
	// PassHeaders are lower-cased remote header names echoed at the
	// envelope layer.
	PassHeaders []string
	// PassStatus are upstream statuses surfaced as the envelope status
	// instead of being normalized to 200.
	PassStatus []int
}

// statusEmptyBody are upstream statuses whose response never has a body.
var statusEmptyBody = []int{
	http.StatusSwitchingProtocols,
	http.StatusNoContent,
	http.StatusResetContent,
	http.StatusNotModified,
}

// EncodeResponse folds the remote's response into the envelope: pass
// headers at the HTTP layer, everything else JSON-encoded (with original
// case) in x-bare-headers, the status mirrored in x-bare-status. A 304
// chosen as the envelope status carries no bare headers at all so the
// client falls back to its cache.
func EncodeResponse(remoteResp *http.Response, opts ResponseOptions) (*bare.Response, error) {
	h := http.Header{}
	lower := headers.FromHTTP(remoteResp.Header)
	mapped := headers.MapFromRaw(headers.RawFromHeader(remoteResp.Header).Names(), lower)

	for _, name := range opts.PassHeaders {
		if value, ok := lower[name]; ok {
			h[http.CanonicalHeaderKey(name)] = value.Values
		}
	}

	status := http.StatusOK
	if slices.Contains(opts.PassStatus, remoteResp.StatusCode) {
		status = remoteResp.StatusCode
	}

	if status != http.StatusNotModified {
		encoded, err := json.Marshal(mapped)
		if err != nil {
			return nil, fmt.Errorf("encoding bare headers: %w", err)
		}
		h.Set("X-Bare-Status", strconv.Itoa(remoteResp.StatusCode))
		h.Set("X-Bare-Status-Text", StatusText(remoteResp))
		h.Set(headers.BareHeadersName, string(encoded))
	}
	headers.SplitBareHeaders(h)

	var body io.Reader
	if slices.Contains(statusEmptyBody, remoteResp.StatusCode) {
		remoteResp.Body.Close()
	} else {
		body = remoteResp.Body
	}

	return &bare.Response{Status: status, Header: h, Body: body}, nil
}

// StatusText extracts the reason phrase of a response, falling back to
// the standard text for its code.
func StatusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
