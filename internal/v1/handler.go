// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package v1 implements the first revision of the bare wire protocol:
// the remote travels split across x-bare-{host,port,protocol,path} and
// WebSocket metadata rides in the Sec-WebSocket-Protocol value.
package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/fetch"
	"github.com/tomphttp/bare-server-go/internal/headers"
	"github.com/tomphttp/bare-server-go/internal/meta"
	"github.com/tomphttp/bare-server-go/internal/remote"
	"github.com/tomphttp/bare-server-go/internal/tunnel"
)

type service struct {
	client *fetch.Client
	store  *meta.Adapter
	log    *slog.Logger
}

// Register mounts the v1 endpoints on the server core.
func Register(s *bare.Server, client *fetch.Client, store *meta.Adapter, log *slog.Logger) {
	svc := &service{client: client, store: store, log: log}
	s.Handle("/v1/", svc.tunnelRequest)
	s.Handle("/v1/ws-new-meta", svc.newMeta)
	s.Handle("/v1/ws-meta", svc.getMeta)
	s.HandleUpgrade("/v1/", svc.tunnelSocket)
	s.RegisterVersion("v1")
}

// parseForwardHeaders reads the required x-bare-forward-headers JSON
// array. v1 keeps the historic permissive behavior and does not reject
// forbidden names; the send-header policy still strips what must never
// leave.
func parseForwardHeaders(req *bare.Request) ([]string, error) {
	raw := req.Header.Get("X-Bare-Forward-Headers")
	if raw == "" {
		return nil, bare.ErrMissingHeader("x-bare-forward-headers")
	}
	var forward []string
	if err := json.Unmarshal([]byte(raw), &forward); err != nil {
		return nil, bare.ErrInvalidHeader("x-bare-forward-headers", "Header contained invalid JSON.")
	}
	return forward, nil
}

func (svc *service) tunnelRequest(ctx context.Context, req *bare.Request) (*bare.Response, error) {
	rem, err := tunnel.ParseRemote(req)
	if err != nil {
		return nil, err
	}
	bareHeaders, err := tunnel.ParseBareHeaders(req)
	if err != nil {
		return nil, err
	}
	forward, err := parseForwardHeaders(req)
	if err != nil {
		return nil, err
	}
	forward = append(forward, tunnel.DefaultForwardHeaders(true)...)

	u, err := rem.URL()
	if err != nil {
		return nil, bare.ErrInvalidHeader("x-bare-path", "Remote did not form a valid URL.")
	}
	resp, err := svc.client.Fetch(ctx, req.Method, u, tunnel.Outbound(bareHeaders, forward, req.Header), req.Body)
	if err != nil {
		return nil, err
	}

	// v1 has no pass lists: the envelope is always 200 and the remote's
	// status travels in x-bare-status.
	return tunnel.EncodeResponse(resp, tunnel.ResponseOptions{
		PassHeaders: tunnel.DefaultPassHeaders,
	})
}

func (svc *service) newMeta(ctx context.Context, _ *bare.Request) (*bare.Response, error) {
	id, err := svc.store.Create(ctx, meta.Record{V: 1})
	if err != nil {
		return nil, err
	}
	return &bare.Response{Status: 200, Body: strings.NewReader(id)}, nil
}

func (svc *service) getMeta(ctx context.Context, req *bare.Request) (*bare.Response, error) {
	id := req.Header.Get("X-Bare-Id")
	if id == "" {
		return nil, bare.ErrMissingHeader("x-bare-id")
	}
	rec, err := svc.store.Take(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.V != 1 || rec.Response == nil {
		return nil, bare.ErrInvalidHeader("x-bare-id", "Unregistered ID.")
	}

	return bare.JSONResponse(200, map[string]headers.Headers{"headers": rec.Response.Headers})
}

// socketConnect is the payload a v1 client percent-encodes into its
// Sec-WebSocket-Protocol value.
type socketConnect struct {
	Remote         remote.Remote   `json:"remote"`
	Headers        headers.Headers `json:"headers"`
	ForwardHeaders []string        `json:"forward_headers"`
	ID             string          `json:"id"`
}
