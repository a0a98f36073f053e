package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-catlaser/internal/clock"
	"github.com/teslashibe/go-catlaser/internal/httpc"
	"github.com/teslashibe/go-catlaser/internal/log"
)

// RemoteConfig configures a RemoteSource.
type RemoteConfig struct {
	URL string `yaml:"url" json:"url"`

	// TTL expires detections when the stream stalls.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// ReconnectInterval is the initial wait after a dropped connection. It
	// doubles up to MaxReconnectInterval.
	ReconnectInterval    time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval" json:"max_reconnect_interval"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
}

// DefaultRemoteConfig returns defaults for a LAN inference service.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		URL:                  "ws://localhost:8765/detections",
		TTL:                  500 * time.Millisecond,
		ReconnectInterval:    500 * time.Millisecond,
		MaxReconnectInterval: 10 * time.Second,
		HandshakeTimeout:     5 * time.Second,
	}
}

// RemoteSource subscribes to an external inference service that streams
// detection messages over a WebSocket.
type RemoteSource struct {
	cfg   RemoteConfig
	cache *Cache

	connected      atomic.Bool
	reconnectCount atomic.Int64
	messages       atomic.Int64
}

var _ Source = (*RemoteSource)(nil)

// NewRemoteSource creates an unconnected source. Call Run to start it.
func NewRemoteSource(cfg RemoteConfig, clk clock.Clock) *RemoteSource {
	def := DefaultRemoteConfig()
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.MaxReconnectInterval < cfg.ReconnectInterval {
		cfg.MaxReconnectInterval = max(def.MaxReconnectInterval, cfg.ReconnectInterval)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	return &RemoteSource{cfg: cfg, cache: NewCache(cfg.TTL, clk)}
}

// LatestDetections implements Source.
func (r *RemoteSource) LatestDetections() []BoundingBox {
	return r.cache.LatestDetections()
}

// Connected reports whether a stream is currently open.
func (r *RemoteSource) Connected() bool {
	return r.connected.Load()
}

// Run connects and consumes messages until ctx is cancelled, reconnecting
// with exponential backoff. It returns ctx.Err().
func (r *RemoteSource) Run(ctx context.Context) error {
	logger := log.Component("detection").With("url", r.cfg.URL)
	wait := r.cfg.ReconnectInterval

	for {
		start := time.Now()
		err := r.session(ctx)
		r.connected.Store(false)
		r.cache.Clear()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A session that lived a while resets the backoff.
		if time.Since(start) > r.cfg.MaxReconnectInterval {
			wait = r.cfg.ReconnectInterval
		}
		r.reconnectCount.Add(1)
		logger.Warn("remote detector disconnected, retrying",
			"error", err,
			"retry_in", wait,
			"reconnects", r.reconnectCount.Load(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, r.cfg.MaxReconnectInterval)
	}
}

func (r *RemoteSource) session(ctx context.Context) error {
	conn, _, err := httpc.WebSocketDialer(r.cfg.HandshakeTimeout).DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.cfg.URL, err)
	}
	defer conn.Close()

	r.connected.Store(true)
	log.Component("detection").Info("remote detector connected", "url", r.cfg.URL)

	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("server closed stream")
			}
			return err
		}
		boxes, err := ParseMessage(data)
		if err != nil {
			log.Component("detection").Debug("bad detection message", "error", err)
			continue
		}
		r.messages.Add(1)
		r.cache.Update(boxes)
	}
}

type wireBox struct {
	X1 *float64 `json:"x1"`
	Y1 *float64 `json:"y1"`
	X2 *float64 `json:"x2"`
	Y2 *float64 `json:"y2"`

	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	W *float64 `json:"w"`
	H *float64 `json:"h"`

	BBox []float64 `json:"bbox"`

	Label string   `json:"label"`
	Class string   `json:"class"`
	Score *float64 `json:"score"`
}

type wireMessage struct {
	Detections []wireBox `json:"detections"`
}

// ParseMessage decodes {"detections":[...]}. Each entry may use corner
// fields (x1,y1,x2,y2), origin and size (x,y,w,h) or a bbox array. Entries
// that fail validation are skipped.
func ParseMessage(data []byte) ([]BoundingBox, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	out := make([]BoundingBox, 0, len(msg.Detections))
	for _, w := range msg.Detections {
		b, err := w.box()
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (w wireBox) box() (BoundingBox, error) {
	var (
		b   BoundingBox
		err error
	)
	switch {
	case w.X1 != nil && w.Y1 != nil && w.X2 != nil && w.Y2 != nil:
		b, err = NewBoundingBox(*w.X1, *w.Y1, *w.X2, *w.Y2)
	case w.X != nil && w.Y != nil && w.W != nil && w.H != nil:
		b, err = FromXYWH(*w.X, *w.Y, *w.W, *w.H)
	case len(w.BBox) == 4:
		b, err = NewBoundingBox(w.BBox[0], w.BBox[1], w.BBox[2], w.BBox[3])
	default:
		return BoundingBox{}, fmt.Errorf("%w: missing coordinates", ErrInvalidBox)
	}
	if err != nil {
		return BoundingBox{}, err
	}
	b.Label = w.Label
	if b.Label == "" {
		b.Label = w.Class
	}
	if w.Score != nil {
		b.Score = *w.Score
	}
	return b, nil
}
