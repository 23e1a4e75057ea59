// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/headers"
	"github.com/tomphttp/bare-server-go/internal/meta"
	"github.com/tomphttp/bare-server-go/internal/remote"
	"github.com/tomphttp/bare-server-go/internal/tunnel"
)

// tunnelSocket relays a v1 WebSocket. The connect parameters arrive
// percent-encoded as the second Sec-WebSocket-Protocol token; the
// remote handshake headers are parked in the meta store for the
// client's later ws-meta poll.
func (svc *service) tunnelSocket(ctx context.Context, w http.ResponseWriter, req *bare.Request) error {
	protocol := req.Header.Get("Sec-Websocket-Protocol")
	kind, payload, ok := strings.Cut(protocol, ",")
	if !ok || strings.TrimSpace(kind) != "bare" {
		return bare.ErrInvalidHeader("sec-websocket-protocol", "Meta was not specified.")
	}

	var connect socketConnect
	decoded := headers.DecodeProtocol(strings.TrimSpace(payload))
	if err := json.Unmarshal([]byte(decoded), &connect); err != nil {
		return bare.ErrInvalidHeader("sec-websocket-protocol", "Meta contained invalid JSON.")
	}
	if !remote.ValidProtocol(connect.Remote.Protocol) {
		return bare.ErrInvalidHeader("sec-websocket-protocol", "Meta contained an unsupported protocol.")
	}

	forward := append(connect.ForwardHeaders, tunnel.DefaultForwardHeaders(true)...)
	outbound := tunnel.Outbound(connect.Headers, forward, req.Header)

	u, err := connect.Remote.URL()
	if err != nil {
		return bare.ErrInvalidHeader("sec-websocket-protocol", "Meta contained an invalid remote.")
	}
	remoteResp, remoteConn, err := svc.client.Upgrade(ctx, u, outbound)
	if err != nil {
		return err
	}

	if connect.ID != "" {
		lower := headers.FromHTTP(remoteResp.Header)
		mapped := headers.MapFromRaw(headers.RawFromHeader(remoteResp.Header).Names(), lower)
		rec := meta.Record{V: 1, Response: &meta.RecordResponse{Headers: mapped}}
		if err := svc.store.Set(ctx, connect.ID, rec); err != nil {
			svc.log.Warn("Storing socket meta failed", "error", err)
		}
	}

	conn, brw, err := req.Hijack(w)
	if err != nil {
		remoteConn.Close()
		return err
	}
	defer conn.Close()

	clientKey := req.Header.Get("Sec-Websocket-Key")
	if err := tunnel.WriteUpgradeResponse(conn, "bare", clientKey, remoteResp); err != nil {
		remoteConn.Close()
		return nil
	}

	bare.RelayOpened()
	defer bare.RelayClosed()
	tunnel.Pipe(tunnel.BufferedConn{Reader: brw.Reader, Conn: conn}, remoteConn)
	return nil
}
