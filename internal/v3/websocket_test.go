// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only
package v3

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoUpstream is a WebSocket server that echoes every frame and tags
// its handshake with a cookie.
func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, http.Header{"Set-Cookie": {"session=abc"}})
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
}

func TestTunnelSocket(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	upstream := echoUpstream(t)
	defer upstream.Close()

	server := newTestServer(t)
	front := httptest.NewServer(server)
	defer front.Close()

	clientConn, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(front.URL, "http")+"/v3/", nil)
	require.NoError(err)
	defer clientConn.Close()

	connect := connectMessage{
		Type:   "connect",
		Remote: "ws" + strings.TrimPrefix(upstream.URL, "http") + "/",
	}
	require.NoError(clientConn.WriteJSON(connect))

	var open openMessage
	require.NoError(clientConn.ReadJSON(&open))
	assert.Equal("open", open.Type)
	assert.Equal([]string{"session=abc"}, open.SetCookies)

	require.NoError(clientConn.WriteMessage(websocket.TextMessage, []byte("ping")))
	messageType, data, err := clientConn.ReadMessage()
	require.NoError(err)
	assert.Equal(websocket.TextMessage, messageType)
	assert.Equal("ping", string(data))
}

func TestTunnelSocketClosesOnBadConnect(t *testing.T) {
	require := require.New(t)

	server := newTestServer(t)
	front := httptest.NewServer(server)
	defer front.Close()

	clientConn, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(front.URL, "http")+"/v3/", nil)
	require.NoError(err)
	defer clientConn.Close()

	// A first frame that is not a connect message ends the session
	// without an open reply.
	require.NoError(clientConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"noise"}`)))
	var open openMessage
	require.Error(clientConn.ReadJSON(&open))
}
