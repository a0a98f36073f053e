package detection

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-catlaser/internal/clock"
	"github.com/teslashibe/go-catlaser/internal/log"
	"github.com/teslashibe/go-catlaser/pkg/geometry"
)

func init() {
	log.SetOutput(io.Discard, "error")
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewBoundingBox(t *testing.T) {
	tests := []struct {
		name           string
		x1, y1, x2, y2 float64
		ok             bool
	}{
		{"valid", 10, 20, 30, 40, true},
		{"inverted x", 30, 20, 10, 40, false},
		{"inverted y", 10, 40, 30, 20, false},
		{"zero width", 10, 20, 10, 40, false},
		{"nan", math.NaN(), 20, 30, 40, false},
		{"inf", 10, 20, math.Inf(1), 40, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := NewBoundingBox(tc.x1, tc.y1, tc.x2, tc.y2)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, geometry.Point{X: 20, Y: 30}, b.Center())
				return
			}
			assert.ErrorIs(t, err, ErrInvalidBox)
		})
	}
}

func TestFromXYWH(t *testing.T) {
	b, err := FromXYWH(10, 20, 30, 40)
	require.NoError(t, err)
	assert.Equal(t, geometry.Rect{X1: 10, Y1: 20, X2: 40, Y2: 60}, b.Rect())
	assert.Equal(t, 1200.0, b.Area())

	_, err = FromXYWH(10, 20, -5, 40)
	assert.ErrorIs(t, err, ErrInvalidBox)
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"": BackendMock, "Mock": BackendMock, "cpu": BackendCPU, "yolo": BackendCPU, "remote": BackendRemote} {
		got, err := ParseBackend(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackend("coral")
	assert.Error(t, err)
	assert.Equal(t, "remote", BackendRemote.String())
}

func TestCache_TTL(t *testing.T) {
	clk := clock.NewMock(epoch)
	c := NewCache(500*time.Millisecond, clk)
	assert.Nil(t, c.LatestDetections())

	b, _ := NewBoundingBox(0, 0, 10, 10)
	bad := BoundingBox{X1: 5, Y1: 5, X2: 1, Y2: 1}
	assert.Equal(t, 1, c.Update([]BoundingBox{b, bad}))

	clk.Advance(400 * time.Millisecond)
	assert.Len(t, c.LatestDetections(), 1)
	assert.Equal(t, 400*time.Millisecond, c.Age())

	clk.Advance(200 * time.Millisecond)
	assert.Nil(t, c.LatestDetections())
}

func TestCache_ReturnsCopy(t *testing.T) {
	c := NewCache(0, clock.NewMock(epoch))
	b, _ := NewBoundingBox(0, 0, 10, 10)
	c.Update([]BoundingBox{b})

	got := c.LatestDetections()
	got[0].X1 = 99
	assert.Equal(t, 0.0, c.LatestDetections()[0].X1)
}

func TestMockDetector(t *testing.T) {
	clk := clock.NewMock(epoch)
	m := NewMockDetector(0, clk)

	b, _ := NewBoundingBox(100, 100, 200, 200)
	require.NoError(t, m.SetDetection(b))

	got := m.LatestDetections()
	require.Len(t, got, 1)
	assert.Equal(t, MockLabel, got[0].Label)
	assert.Equal(t, 1.0, got[0].Score)

	clk.Advance(DefaultMockTTL + time.Millisecond)
	assert.Empty(t, m.LatestDetections())

	require.NoError(t, m.SetDetection(b))
	m.Clear()
	assert.Empty(t, m.LatestDetections())

	assert.ErrorIs(t, m.SetDetection(BoundingBox{X1: 1, X2: 0}), ErrInvalidBox)
}

type fakeDetector struct {
	boxes  []BoundingBox
	err    error
	closed bool
}

func (f *fakeDetector) Detect([]byte) ([]BoundingBox, error) { return f.boxes, f.err }
func (f *fakeDetector) Close() error                          { f.closed = true; return nil }

func TestFrameDetector(t *testing.T) {
	b, _ := NewBoundingBox(1, 2, 3, 4)
	det := &fakeDetector{boxes: []BoundingBox{b}}
	fd := NewFrameDetector(det, NewCache(0, clock.NewMock(epoch)))

	require.NoError(t, fd.Process([]byte("jpeg")))
	assert.Len(t, fd.LatestDetections(), 1)

	det.err = errors.New("inference failed")
	assert.Error(t, fd.Process([]byte("jpeg")))
	assert.Empty(t, fd.LatestDetections(), "failures clear stale detections")

	frames, errs := fd.Stats()
	assert.Equal(t, uint64(2), frames)
	assert.Equal(t, uint64(1), errs)

	require.NoError(t, fd.Close())
	assert.True(t, det.closed)
}

func TestParseMessage(t *testing.T) {
	msg := `{"detections":[
		{"x1": 10, "y1": 20, "x2": 30, "y2": 40, "label": "cat", "score": 0.9},
		{"x": 100, "y": 100, "w": 50, "h": 60, "class": "dog", "score": 0.7},
		{"bbox": [5, 5, 15, 15], "label": "mock_cat", "score": 1.0},
		{"x1": 30, "y1": 20, "x2": 10, "y2": 40},
		{"label": "no coords"}
	]}`
	boxes, err := ParseMessage([]byte(msg))
	require.NoError(t, err)
	require.Len(t, boxes, 3)

	assert.Equal(t, BoundingBox{X1: 10, Y1: 20, X2: 30, Y2: 40, Label: "cat", Score: 0.9}, boxes[0])
	assert.Equal(t, BoundingBox{X1: 100, Y1: 100, X2: 150, Y2: 160, Label: "dog", Score: 0.7}, boxes[1])
	assert.Equal(t, "mock_cat", boxes[2].Label)

	_, err = ParseMessage([]byte("not json"))
	assert.Error(t, err)
}

func TestRemoteSource_ReceivesAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns <- struct{}{}
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"detections":[{"x1":1,"y1":2,"x2":3,"y2":4,"label":"cat"}]}`))
		// Drop the first connection right away to exercise reconnect.
		if len(conns) == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := DefaultRemoteConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.TTL = 0
	cfg.ReconnectInterval = 10 * time.Millisecond
	src := NewRemoteSource(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(conns) >= 2 && src.Connected() && len(src.LatestDetections()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "cat", src.LatestDetections()[0].Label)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, src.Connected())
}
