// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Upgrade performs the outbound half of a v1/v2 WebSocket relay: an
// HTTP upgrade request against the remote. Only the scheme is rewritten
// (ws becomes http, wss becomes https); the handshake headers travel in
// the prepared header set. On success it returns the remote's 101
// response and the raw connection for the relay loops.
func (c *Client) Upgrade(ctx context.Context, u *url.URL, header http.Header) (*http.Response, io.ReadWriteCloser, error) {
	httpURL := *u
	switch u.Scheme {
	case "ws":
		httpURL.Scheme = "http"
	case "wss":
		httpURL.Scheme = "https"
	}

	if err := c.filterRemote(&httpURL); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building upgrade request: %w", err)
	}
	applyHeader(req, header)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")

	resp, err := c.upgradeTransport.RoundTrip(req)
	if err != nil {
		return nil, nil, mapTransportError(err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("remote answered the upgrade with status %d", resp.StatusCode)
	}

	conn, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("upgrade response body is not writable")
	}
	return resp, conn, nil
}
