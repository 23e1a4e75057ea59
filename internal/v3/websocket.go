// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package v3

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/headers"
	"github.com/tomphttp/bare-server-go/internal/tunnel"
)

// connectTimeout caps the wait for the client's first frame.
const connectTimeout = 10 * time.Second

// upgrader accepts any origin; the tunnel is origin-agnostic by design.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// connectMessage is the first text frame a v3 client must send.
type connectMessage struct {
	Type           string          `json:"type"`
	Remote         string          `json:"remote"`
	Protocols      []string        `json:"protocols"`
	Headers        headers.Headers `json:"headers"`
	ForwardHeaders []string        `json:"forwardHeaders"`
}

// openMessage is the server's reply once the remote socket is up.
type openMessage struct {
	Type       string   `json:"type"`
	Protocol   string   `json:"protocol"`
	SetCookies []string `json:"setCookies"`
}

// tunnelSocket relays a v3 WebSocket. The client upgrades first, then
// negotiates in-band: its first frame names the remote, and the reply
// carries the accepted subprotocol and the remote's cookies.
func (svc *service) tunnelSocket(ctx context.Context, w http.ResponseWriter, req *bare.Request) error {
	clientConn, err := upgrader.Upgrade(w, req.Request, nil)
	if err != nil {
		// The upgrader already answered the client.
		req.MarkHijacked()
		return nil
	}
	req.MarkHijacked()
	defer clientConn.Close()

	connect, err := readConnect(clientConn)
	if err != nil {
		svc.log.Debug("Reading connect message failed", "error", err)
		return nil
	}

	forward, err := parseForwardHeaders(connect.ForwardHeaders)
	if err != nil {
		return nil
	}
	for name := range connect.Headers {
		if tunnel.ForbiddenSend(name) {
			return nil
		}
	}

	u, err := url.Parse(connect.Remote)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil
	}

	outbound := tunnel.Outbound(connect.Headers, forward, req.Header)
	remoteConn, remoteResp, err := svc.client.DialWebSocket(ctx, u, connect.Protocols, outbound)
	if err != nil {
		svc.log.Debug("Remote WebSocket dial failed", "remote", connect.Remote, "error", err)
		return nil
	}
	defer remoteConn.Close()

	setCookies := remoteResp.Header.Values("Set-Cookie")
	if setCookies == nil {
		setCookies = []string{}
	}
	open := openMessage{
		Type:       "open",
		Protocol:   remoteConn.Subprotocol(),
		SetCookies: setCookies,
	}
	if err := clientConn.WriteJSON(open); err != nil {
		return nil
	}

	bare.RelayOpened()
	defer bare.RelayClosed()
	relayMessages(clientConn, remoteConn)
	return nil
}

// readConnect waits for the client's connect frame.
func readConnect(conn *websocket.Conn) (*connectMessage, error) {
	if err := conn.SetReadDeadline(time.Now().Add(connectTimeout)); err != nil {
		return nil, err
	}
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("connect message was not text")
	}

	var connect connectMessage
	if err := json.Unmarshal(data, &connect); err != nil {
		return nil, fmt.Errorf("decoding connect message: %w", err)
	}
	if connect.Type != "connect" {
		return nil, fmt.Errorf("unexpected message type %q", connect.Type)
	}
	return &connect, nil
}

// relayMessages pipes frames both ways until either side closes, then
// closes the other. The two directions are independent.
func relayMessages(client, remote *websocket.Conn) {
	done := make(chan struct{}, 2)
	relay := func(dst, src *websocket.Conn) {
		defer func() { done <- struct{}{} }()
		for {
			messageType, data, err := src.ReadMessage()
			if err != nil {
				return
			}
			if err := dst.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}
	go relay(remote, client)
	go relay(client, remote)

	<-done
	client.Close()
	remote.Close()
	<-done
}
