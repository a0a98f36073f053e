package httpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNetDialer(t *testing.T) {
	d := NetDialer()
	assert.Equal(t, DefaultConnectTimeout, d.Timeout)
	assert.Equal(t, DefaultKeepAlive, d.KeepAlive)
}

func TestWebSocketDialer(t *testing.T) {
	d := WebSocketDialer(3 * time.Second)
	assert.Equal(t, 3*time.Second, d.HandshakeTimeout)
	assert.NotNil(t, d.NetDialContext)
	assert.NotNil(t, d.Proxy)

	d = WebSocketDialer(0)
	assert.Equal(t, DefaultHandshakeTimeout, d.HandshakeTimeout)
}
