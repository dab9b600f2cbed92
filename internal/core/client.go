package core

import (
	"encoding/json"
	"sync"
)

// Client is one live connection as seen by the relays.
// Relays only queue frames and request closure; the transport owns the socket.
type Client struct {
	ID     string
	UserID string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	closeCode   int
	closeReason string
}

// NewClient constructs a client with a bounded outbound queue.
func NewClient(id, userID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:     id,
		UserID: userID,
		out:    make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues an encoded frame without blocking.
// It reports false when the client is closed or its queue is full.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- payload:
		return true
	default:
		return false
	}
}

// SendJSON encodes v and queues it.
func (c *Client) SendJSON(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.Send(payload)
}

// Close asks the transport to close the channel with the given code.
// Frames queued before Close are still flushed. Only the first call has effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Outbound yields queued frames in FIFO order.
func (c *Client) Outbound() <-chan []byte {
	return c.out
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// CloseStatus returns the code and reason passed to Close. Valid only after Done is closed.
func (c *Client) CloseStatus() (int, string) {
	return c.closeCode, c.closeReason
}
