// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package fetch

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// DialWebSocket opens the outbound WebSocket of a v3 relay. protocols
// are offered as subprotocols; the chosen one is available on the
// returned connection. The handshake response is returned so the
// handler can relay the remote's Set-Cookie values.
func (c *Client) DialWebSocket(ctx context.Context, u *url.URL, protocols []string, header http.Header) (*websocket.Conn, *http.Response, error) {
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

	dialer := &websocket.Dialer{
		NetDialContext:   c.dialContext,
		HandshakeTimeout: upgradeTimeout,
		Subprotocols:     protocols,
	}

	// The dialer owns the handshake headers; anything it manages itself
	// must not be supplied twice.
	dialHeader := make(http.Header, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Connection", "Upgrade", "Sec-Websocket-Key", "Sec-Websocket-Version",
			"Sec-Websocket-Extensions", "Sec-Websocket-Protocol":
			continue
		}
		dialHeader[name] = values
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), dialHeader)
	if err != nil {
		return nil, nil, mapTransportError(err)
	}
	return conn, resp, nil
}
