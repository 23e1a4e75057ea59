// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package v2 implements the second revision of the bare wire protocol.
// It extends v1 with client-chosen pass/forward lists, a cache mode and
// an id-based WebSocket meta exchange.
package v2

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/fetch"
	"github.com/tomphttp/bare-server-go/internal/meta"
	"github.com/tomphttp/bare-server-go/internal/tunnel"
)

type service struct {
	client *fetch.Client
	store  *meta.Adapter
	log    *slog.Logger
}

// Register mounts the v2 endpoints on the server core.
func Register(s *bare.Server, client *fetch.Client, store *meta.Adapter, log *slog.Logger) {
	svc := &service{client: client, store: store, log: log}
	s.Handle("/v2/", svc.tunnelRequest)
	s.Handle("/v2/ws-new-meta", svc.newMeta)
	s.Handle("/v2/ws-meta", svc.getMeta)
	s.HandleUpgrade("/v2/", svc.tunnelSocket)
	s.RegisterVersion("v2")
}

// splitHeaderList splits a comma-separated header list value.
func splitHeaderList(value string) []string {
	var names []string
	for _, name := range strings.Split(value, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// parseForwardHeaders reads x-bare-forward-headers and rejects
// forbidden names.
func parseForwardHeaders(req *bare.Request) ([]string, error) {
	names := splitHeaderList(req.Header.Get("X-Bare-Forward-Headers"))
	for _, name := range names {
		if tunnel.ForbiddenForward(name) {
			return nil, bare.ErrForbiddenHeader("x-bare-forward-headers", name)
		}
	}
	return names, nil
}

// parsePassHeaders reads x-bare-pass-headers and rejects forbidden
// names. Names are lower-cased for response lookup.
func parsePassHeaders(req *bare.Request) ([]string, error) {
	var names []string
	for _, name := range splitHeaderList(req.Header.Get("X-Bare-Pass-Headers")) {
		if tunnel.ForbiddenPass(name) {
			return nil, bare.ErrForbiddenHeader("x-bare-pass-headers", name)
		}
		names = append(names, strings.ToLower(name))
	}
	return names, nil
}

// parsePassStatus reads the x-bare-pass-status code list.
func parsePassStatus(req *bare.Request) ([]int, error) {
	var statuses []int
	for _, field := range splitHeaderList(req.Header.Get("X-Bare-Pass-Status")) {
		status, err := strconv.Atoi(field)
		if err != nil {
			return nil, bare.ErrInvalidHeader("x-bare-pass-status", "Header contained an invalid status code.")
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
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
	passHeaders, err := parsePassHeaders(req)
	if err != nil {
		return nil, err
	}
	passStatus, err := parsePassStatus(req)
	if err != nil {
		return nil, err
	}

	forward = append(forward, tunnel.DefaultForwardHeaders(true)...)
	passHeaders = append(passHeaders, tunnel.DefaultPassHeaders...)
	if req.Query.Has("cache") {
		forward = append(forward, tunnel.CacheForwardHeaders...)
		passHeaders = append(passHeaders, tunnel.CachePassHeaders...)
		passStatus = append(passStatus, http.StatusNotModified)
	}

	u, err := rem.URL()
	if err != nil {
		return nil, bare.ErrInvalidHeader("x-bare-path", "Remote did not form a valid URL.")
	}
	resp, err := svc.client.Fetch(ctx, req.Method, u, tunnel.Outbound(bareHeaders, forward, req.Header), req.Body)
	if err != nil {
		return nil, err
	}

	return tunnel.EncodeResponse(resp, tunnel.ResponseOptions{
		PassHeaders: passHeaders,
		PassStatus:  passStatus,
	})
}

// newMeta parses the full connect envelope up front and parks it for
// the upgrade request, which can only carry an id.
func (svc *service) newMeta(ctx context.Context, req *bare.Request) (*bare.Response, error) {
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

	id, err := svc.store.Create(ctx, meta.Record{
		V:              2,
		Remote:         &rem,
		SendHeaders:    bareHeaders,
		ForwardHeaders: forward,
	})
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
	if rec == nil || rec.V != 2 || rec.Response == nil {
		return nil, bare.ErrInvalidHeader("x-bare-id", "Unregistered ID.")
	}

	return bare.JSONResponse(200, rec.Response)
}
