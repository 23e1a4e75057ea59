// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

// Package fetch issues the outbound side of a tunneled exchange: plain
// HTTP(S) requests, HTTP upgrades and WebSocket dials. All outbound
// traffic passes the SSRF policy hooks before a connection is made.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

// upgradeTimeout caps the time the remote may take to answer an upgrade
// request with its handshake.
const upgradeTimeout = 12 * time.Second

// Options configures the outbound client.
type Options struct {
	// LocalAddress binds outbound connections to a local IP.
	LocalAddress string
	// Family restricts dialing to an IP family: 0 (any), 4 or 6.
	Family int
	// BlockLocal enables the default SSRF filters.
	BlockLocal bool
	// FilterRemote replaces the default literal-IP gate. It is called
	// before each outbound request whose host is a literal IP; returning
	// an error blocks the request.
	FilterRemote func(u *url.URL) error
	// Lookup replaces the default DNS hook. It is the SSRF gate for
	// hostnames.
	Lookup func(ctx context.Context, host string) ([]net.IP, error)

	Log *slog.Logger
}

// Client owns the shared outbound connection pools.
type Client struct {
	opts             Options
	transport        *http.Transport
	upgradeTransport *http.Transport
	resolver         *net.Resolver
}

// New builds a Client. The returned client holds keep-alive pools and
// must be closed with Close when the server shuts down.
func New(opts Options) *Client {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	c := &Client{opts: opts, resolver: net.DefaultResolver}

	c.transport = &http.Transport{
		Proxy:                 nil, // the tunnel dials targets directly
		DialContext:           c.dialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	// Upgrades switch protocols on the wire, so their connections never
	// return to a pool and HTTP/2 must not be attempted.
	c.upgradeTransport = &http.Transport{
		Proxy:                 nil,
		DialContext:           c.dialContext,
		DisableKeepAlives:     true,
		ForceAttemptHTTP2:     false,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: upgradeTimeout,
	}

	return c
}

// Close tears down the shared connection pools.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
	c.upgradeTransport.CloseIdleConnections()
}

// filterRemote applies the literal-IP SSRF gate.
func (c *Client) filterRemote(u *url.URL) error {
	if c.opts.FilterRemote != nil {
		return c.opts.FilterRemote(u)
	}
	if c.opts.BlockLocal {
		return defaultFilterRemote(u)
	}
	return nil
}

// lookup resolves a hostname and applies the resolver-side SSRF gate.
func (c *Client) lookup(ctx context.Context, host string) ([]net.IP, error) {
	if c.opts.Lookup != nil {
		return c.opts.Lookup(ctx, host)
	}

	network := "ip"
	switch c.opts.Family {
	case 4:
		network = "ip4"
	case 6:
		network = "ip6"
	}
	ips, err := c.resolver.LookupIP(ctx, network, host)
	if err != nil {
		return nil, err
	}
	if !c.opts.BlockLocal {
		return ips, nil
	}

	permitted := ips[:0]
	for _, ip := range ips {
		if permittedIP(ip) {
			permitted = append(permitted, ip)
		}
	}
	if len(permitted) == 0 {
		return nil, fmt.Errorf("Forbidden IP for host %q", host)
	}
	return permitted, nil
}

// dialContext dials the remote, resolving hostnames through the lookup
// hook. Literal IPs were already vetted by filterRemote.
func (c *Client) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("splitting dial address: %w", err)
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if c.opts.LocalAddress != "" {
		local := net.ParseIP(c.opts.LocalAddress)
		if local == nil {
			return nil, fmt.Errorf("invalid local address %q", c.opts.LocalAddress)
		}
		dialer.LocalAddr = &net.TCPAddr{IP: local}
	}
	switch c.opts.Family {
	case 4:
		network = "tcp4"
	case 6:
		network = "tcp6"
	}

	if ip := net.ParseIP(host); ip != nil {
		return dialer.DialContext(ctx, network, addr)
	}

	ips, err := c.lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	var dialErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		dialErr = err
	}
	return nil, dialErr
}

// Fetch issues the outbound HTTP(S) request of a tunneled exchange and
// returns the remote's response with a streaming body. Redirects are not
// followed; the envelope relays them to the client.
func (c *Client) Fetch(ctx context.Context, method string, u *url.URL, header http.Header, body io.Reader) (*http.Response, error) {
	if err := c.filterRemote(u); err != nil {
		return nil, err
	}

	if method == http.MethodGet || method == http.MethodHead {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building outbound request: %w", err)
	}
	applyHeader(req, header)

	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	if resp.StatusCode == http.StatusSwitchingProtocols {
		// The remote upgraded a request that never asked for it.
		resp.Body.Close()
		return nil, bare.ErrTransport("UPGRADE_UNEXPECTED", "The remote upgraded the connection unexpectedly.")
	}
	return resp, nil
}

// applyHeader installs the prepared outbound header set on a request,
// preserving the exact key case the client asked for. The Host header is
// routed through req.Host so the supplied value is sent as-is.
func applyHeader(req *http.Request, header http.Header) {
	req.Header = make(http.Header, len(header))
	for name, values := range header {
		if http.CanonicalHeaderKey(name) == "Host" {
			if len(values) > 0 {
				req.Host = values[0]
			}
			continue
		}
		req.Header[name] = values
	}
}

// mapTransportError converts outbound I/O failures into bare protocol
// errors. Anything unrecognized funnels into UNKNOWN upstream.
func mapTransportError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return bare.ErrTransport(bare.CodeHostNotFound, dnsErr.Error())
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return bare.ErrTransport(bare.CodeConnectionRefused, err.Error())
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return bare.ErrTransport(bare.CodeConnectionReset, err.Error())
	}
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return bare.ErrTransport(bare.CodeConnectionTimeout, err.Error())
	}
	return err
}
