package hub

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-catlaser/internal/log"
)

func init() {
	log.SetOutput(io.Discard, "error")
}

// fakeClient registers without a connection so the test can read its queue.
func fakeClient(t *testing.T, h *Hub, buf int) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan Message, buf)}
	h.register <- c
	return c
}

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	require.Eventually(t, h.IsRunning, time.Second, time.Millisecond)
	return h, cancel
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	h, cancel := runHub(t)
	defer cancel()

	a := fakeClient(t, h, 4)
	b := fakeClient(t, h, 4)
	assert.Equal(t, 2, h.ClientCount())

	require.NoError(t, h.BroadcastJSON(map[string]string{"state": "ROAM"}))
	for _, c := range []*Client{a, b} {
		select {
		case m := <-c.send:
			assert.JSONEq(t, `{"state":"ROAM"}`, string(m.Data))
		case <-time.After(time.Second):
			t.Fatal("no message")
		}
	}
}

func TestHub_Unregister(t *testing.T) {
	h, cancel := runHub(t)
	defer cancel()

	c := fakeClient(t, h, 1)
	h.unregister <- c
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)
	_, ok := <-c.send
	assert.False(t, ok, "send channel closed")
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, cancel := runHub(t)
	defer cancel()

	slow := fakeClient(t, h, 1)
	h.Broadcast(NewJSONMessage([]byte(`1`)))
	h.Broadcast(NewJSONMessage([]byte(`2`)))
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, time.Millisecond)

	m, ok := <-slow.send
	require.True(t, ok)
	assert.Equal(t, "1", string(m.Data))
	_, ok = <-slow.send
	assert.False(t, ok)
}

func TestHub_StopClosesClients(t *testing.T) {
	h, cancel := runHub(t)
	c := fakeClient(t, h, 1)

	cancel()
	require.Eventually(t, func() bool { return !h.IsRunning() }, time.Second, time.Millisecond)
	_, ok := <-c.send
	assert.False(t, ok)
	assert.Nil(t, NewClient(h, nil), "stopped hub refuses clients")
}

func TestHub_BroadcastJSONError(t *testing.T) {
	h := New("test")
	assert.Error(t, h.BroadcastJSON(func() {}))
}
