// Package httpc provides shared dial settings for outbound connections.
// Use these instead of zero-value dialers to ensure timeouts are set.
package httpc

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Default timeouts for outbound connections.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultKeepAlive        = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Frames from the remote detector are small JSON arrays.
const (
	readBufferSize  = 4096
	writeBufferSize = 1024
)

// NetDialer returns a TCP dialer with connect and keep-alive timeouts.
func NetDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   DefaultConnectTimeout,
		KeepAlive: DefaultKeepAlive,
	}
}

// WebSocketDialer returns a websocket dialer honoring proxy environment
// variables. A non-positive handshake uses DefaultHandshakeTimeout.
func WebSocketDialer(handshake time.Duration) *websocket.Dialer {
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	return &websocket.Dialer{
		NetDialContext:   NetDialer().DialContext,
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
		ReadBufferSize:   readBufferSize,
		WriteBufferSize:  writeBufferSize,
	}
}
