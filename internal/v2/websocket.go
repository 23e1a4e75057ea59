// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package v2

import (
	"context"
	"net/http"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/headers"
	"github.com/tomphttp/bare-server-go/internal/meta"
	"github.com/tomphttp/bare-server-go/internal/remote"
	"github.com/tomphttp/bare-server-go/internal/tunnel"
)

// tunnelSocket relays a v2 WebSocket. The upgrade request carries only
// a meta id in Sec-WebSocket-Protocol; the connect parameters were
// deposited via ws-new-meta, and the remote's handshake is written back
// into the same record for the ws-meta poll.
func (svc *service) tunnelSocket(ctx context.Context, w http.ResponseWriter, req *bare.Request) error {
	id := req.Header.Get("Sec-Websocket-Protocol")
	if id == "" {
		return bare.ErrMissingHeader("sec-websocket-protocol")
	}
	rec, err := svc.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.V != 2 || rec.Remote == nil {
		return bare.ErrInvalidHeader("sec-websocket-protocol", "Unregistered ID.")
	}
	if !remote.ValidProtocol(rec.Remote.Protocol) {
		return bare.ErrInvalidHeader("sec-websocket-protocol", "Meta contained an unsupported protocol.")
	}

	forward := append(rec.ForwardHeaders, tunnel.DefaultForwardHeaders(true)...)
	outbound := tunnel.Outbound(rec.SendHeaders, forward, req.Header)

	u, err := rec.Remote.URL()
	if err != nil {
		return bare.ErrInvalidHeader("sec-websocket-protocol", "Meta contained an invalid remote.")
	}
	remoteResp, remoteConn, err := svc.client.Upgrade(ctx, u, outbound)
	if err != nil {
		return err
	}

	lower := headers.FromHTTP(remoteResp.Header)
	mapped := headers.MapFromRaw(headers.RawFromHeader(remoteResp.Header).Names(), lower)
	update := meta.Record{V: 2, Response: &meta.RecordResponse{
		Status:     remoteResp.StatusCode,
		StatusText: tunnel.StatusText(remoteResp),
		Headers:    mapped,
	}}
	if err := svc.store.Set(ctx, id, update); err != nil {
		svc.log.Warn("Storing socket meta failed", "error", err)
	}

	conn, brw, err := req.Hijack(w)
	if err != nil {
		remoteConn.Close()
		return err
	}
	defer conn.Close()

	clientKey := req.Header.Get("Sec-Websocket-Key")
	if err := tunnel.WriteUpgradeResponse(conn, id, clientKey, remoteResp); err != nil {
		remoteConn.Close()
		return nil
	}

	bare.RelayOpened()
	defer bare.RelayClosed()
	tunnel.Pipe(tunnel.BufferedConn{Reader: brw.Reader, Conn: conn}, remoteConn)
	return nil
}
