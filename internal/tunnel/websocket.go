// Copyright (c) The TompHTTP Contributors
// SPDX-License-Identifier: GPL-3.0-only

package tunnel

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
)

// websocketGUID is the fixed key-hashing GUID of RFC 6455.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// SecWebSocketAccept derives the handshake accept value for a client key.
func SecWebSocketAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// WriteUpgradeResponse writes the 101 handshake on the hijacked client
// socket. The accept value is echoed from the remote's handshake, which
// is valid because the client's own Sec-WebSocket-Key was forwarded;
// when the remote omitted it, it is derived from the client key.
func WriteUpgradeResponse(w io.Writer, protocol string, clientKey string, remoteResp *http.Response) error {
	accept := remoteResp.Header.Get("Sec-Websocket-Accept")
	if accept == "" {
		accept = SecWebSocketAccept(clientKey)
	}

	if _, err := fmt.Fprintf(w, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: %s\r\n", accept); err != nil {
		return err
	}
	if protocol != "" {
		if _, err := fmt.Fprintf(w, "Sec-WebSocket-Protocol: %s\r\n", protocol); err != nil {
			return err
		}
	}
	if extensions := remoteResp.Header.Get("Sec-Websocket-Extensions"); extensions != "" {
		if _, err := fmt.Fprintf(w, "Sec-WebSocket-Extensions: %s\r\n", extensions); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// BufferedConn reads via the bufio reader left over from the hijack so
// bytes the client sent early are not lost, and otherwise behaves as the
// underlying connection.
type BufferedConn struct {
	Reader *bufio.Reader
	net.Conn
}

// Read drains the hijack buffer before the socket.
func (c BufferedConn) Read(p []byte) (int, error) {
	return c.Reader.Read(p)
}

// Pipe relays bytes between the client and remote sockets until either
// side closes, then tears both down. The two directions are independent.
func Pipe(client, remote io.ReadWriteCloser) {
	done := make(chan struct{}, 2)
	relay := func(dst io.Writer, src io.Reader) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go relay(client, remote)
	go relay(remote, client)

	<-done
	client.Close()
	remote.Close()
	<-done
}
