// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package v3 implements the third revision of the bare wire protocol.
// The remote is a single x-bare-url, the forbidden header lists are
// enforced strictly, and WebSockets negotiate over an in-band connect
// message instead of a meta side channel.
package v3

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/fetch"
	"github.com/tomphttp/bare-server-go/internal/headers"
	"github.com/tomphttp/bare-server-go/internal/tunnel"
)

type service struct {
	client *fetch.Client
	log    *slog.Logger
}

// Register mounts the v3 endpoints on the server core.
func Register(s *bare.Server, client *fetch.Client, log *slog.Logger) {
	svc := &service{client: client, log: log}
	s.Handle("/v3/", svc.tunnelRequest)
	s.HandleUpgrade("/v3/", svc.tunnelSocket)
	s.RegisterVersion("v3")
}

// parseRemote reads the x-bare-url envelope header.
func parseRemote(req *bare.Request) (*url.URL, error) {
	raw := req.Header.Get("X-Bare-Url")
	if raw == "" {
		return nil, bare.ErrMissingHeader("x-bare-url")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, bare.ErrInvalidHeader("x-bare-url", "Header was not a valid URL.")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, bare.ErrInvalidHeader("x-bare-url", "Header contained an unsupported protocol.")
	}
	return u, nil
}

// parseBareHeaders decodes x-bare-headers and enforces the
// forbidden-send list.
func parseBareHeaders(req *bare.Request) (headers.Headers, error) {
	bareHeaders, err := tunnel.ParseBareHeaders(req)
	if err != nil {
		return nil, err
	}
	for name := range bareHeaders {
		if tunnel.ForbiddenSend(name) {
			return nil, bare.ErrForbiddenHeader("x-bare-headers", name)
		}
	}
	return bareHeaders, nil
}

// parseForwardHeaders reads x-bare-forward-headers and rejects
// forbidden names.
func parseForwardHeaders(raw []string) ([]string, error) {
	var names []string
	for _, name := range raw {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if tunnel.ForbiddenForward(name) {
			return nil, bare.ErrForbiddenHeader("x-bare-forward-headers", name)
		}
		names = append(names, name)
	}
	return names, nil
}

func parsePassHeaders(raw []string) ([]string, error) {
	var names []string
	for _, name := range raw {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if tunnel.ForbiddenPass(name) {
			return nil, bare.ErrForbiddenHeader("x-bare-pass-headers", name)
		}
		names = append(names, strings.ToLower(name))
	}
	return names, nil
}

func (svc *service) tunnelRequest(ctx context.Context, req *bare.Request) (*bare.Response, error) {
	u, err := parseRemote(req)
	if err != nil {
		return nil, err
	}
	bareHeaders, err := parseBareHeaders(req)
	if err != nil {
		return nil, err
	}
	forward, err := parseForwardHeaders(strings.Split(req.Header.Get("X-Bare-Forward-Headers"), ","))
	if err != nil {
		return nil, err
	}
	passHeaders, err := parsePassHeaders(strings.Split(req.Header.Get("X-Bare-Pass-Headers"), ","))
	if err != nil {
		return nil, err
	}
	passStatus, err := parsePassStatus(req)
	if err != nil {
		return nil, err
	}

	forward = append(forward, tunnel.DefaultForwardHeaders(false)...)
	passHeaders = append(passHeaders, tunnel.DefaultPassHeaders...)
	if req.Query.Has("cache") {
		forward = append(forward, tunnel.CacheForwardHeaders...)
		passHeaders = append(passHeaders, tunnel.CachePassHeaders...)
		passStatus = append(passStatus, http.StatusNotModified)
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

func parsePassStatus(req *bare.Request) ([]int, error) {
	var statuses []int
	for _, field := range strings.Split(req.Header.Get("X-Bare-Pass-Status"), ",") {
		if field = strings.TrimSpace(field); field == "" {
			continue
		}
		status, err := strconv.Atoi(field)
		if err != nil {
			return nil, bare.ErrInvalidHeader("x-bare-pass-status", "Header contained an invalid status code.")
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
