// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package ratelimit implements the per-IP token bucket guarding the
// tunnel endpoints.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Limiter hands out request tokens per client IP over a fixed window.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket

	now func() time.Time
}

type bucket struct {
	remaining int
	reset     time.Time
}

// Result describes the bucket state after a check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// New returns a Limiter that allows limit requests per window for each
// client IP.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Consume takes a token for ip. Used for keep-alive exchanges, where
// every request on the connection is billed.
func (l *Limiter) Consume(ip string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(ip)
	if b.remaining <= 0 {
		return l.result(b, false)
	}
	b.remaining--
	return l.result(b, true)
}

// Peek inspects the bucket for ip without taking a token. Used for
// non-keep-alive exchanges, which proceed while tokens remain.
func (l *Limiter) Peek(ip string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(ip)
	return l.result(b, b.remaining > 0)
}

// bucketFor returns the live bucket for ip, resetting or creating it as
// needed. Stale buckets for other IPs are pruned opportunistically.
func (l *Limiter) bucketFor(ip string) *bucket {
	now := l.now()
	if len(l.buckets) > 1024 {
		for key, b := range l.buckets {
			if now.After(b.reset) {
				delete(l.buckets, key)
			}
		}
	}

	b, ok := l.buckets[ip]
	if !ok || now.After(b.reset) {
		b = &bucket{remaining: l.limit, reset: now.Add(l.window)}
		l.buckets[ip] = b
	}
	return b
}

func (l *Limiter) result(b *bucket, allowed bool) Result {
	return Result{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: b.remaining,
		Reset:     b.reset,
	}
}

// ClientIP resolves the client address of an exchange: the first
// X-Forwarded-For entry, then X-Real-IP, then the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeepAlive reports whether the exchange rides a keep-alive connection.
// This is a heuristic over the Connection header and HTTP version; see
// the request-billing split in Consume and Peek.
func KeepAlive(r *http.Request) bool {
	conn := strings.ToLower(r.Header.Get("Connection"))
	if strings.Contains(conn, "close") {
		return false
	}
	if r.ProtoAtLeast(1, 1) {
		return true
	}
	return strings.Contains(conn, "keep-alive")
}
