package relay

import "sync"

// EnvelopeSink is the outbound transport write (SSE frame or websocket
// message). Implementations live next to their controller.
type EnvelopeSink interface {
	Send(Envelope) error
}

// ClientChannel wraps the outbound connection to the browser. It tracks
// connectivity and gates forwarding; it never affects upstream consumption
// by itself — whether a disconnect also cancels the upstream subscription
// is the session's disconnect policy, not the channel's business.
type ClientChannel struct {
	mu        sync.Mutex
	sink      EnvelopeSink
	connected bool
}

func NewClientChannel(sink EnvelopeSink) *ClientChannel {
	return &ClientChannel{sink: sink, connected: true}
}

func (c *ClientChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Forward delivers one envelope to the client. No-op when disconnected.
// A failed transport write flips the channel to disconnected; subsequent
// forwards are silently dropped while accumulation continues.
func (c *ClientChannel) Forward(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	if err := c.sink.Send(env); err != nil {
		c.connected = false
	}
}

// MarkDisconnected flips connectivity to false.
func (c *ClientChannel) MarkDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}
