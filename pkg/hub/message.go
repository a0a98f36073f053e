// Package hub fans out status snapshots to websocket subscribers using the
// channel-based register/unregister/broadcast pattern.
package hub

// Message is one pre-encoded frame for every client.
type Message struct {
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}
