// Package client implements the request/response coordination core: it
// turns the fire-and-forget frame channel of an execution context into a
// future-based protocol with per-request identity, progress, cancellation,
// and queue-replacement semantics.
package client

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/seantiz/tether/internal/protocol"
	"github.com/seantiz/tether/internal/worker"
)

// Client owns one execution context handle and the insertion-ordered queue
// of requests that have been transmitted but not yet settled. All inbound
// frames are demultiplexed back to their request by id; arrival order
// across ids carries no meaning.
type Client struct {
	logger *slog.Logger

	mu       sync.Mutex
	queue    *pendingQueue
	handle   worker.Handle
	active   bool // handle is live; false after CancelAll terminates it
	released bool // Dispose happened; terminal
}

// New creates a client with no execution context attached. Sends before
// Attach are tracked but not transmitted.
func New(logger *slog.Logger) *Client {
	return &Client{
		logger: logger,
		queue:  newPendingQueue(),
	}
}

// Attach installs a live execution context and registers the client's
// demultiplexer on it. The client never spawns contexts itself; after
// CancelAll has terminated the previous context, Attach is how the
// construction collaborator installs a replacement. Messages queued while
// no context was attached are not retransmitted.
func (c *Client) Attach(h worker.Handle) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.active {
		c.mu.Unlock()
		return errors.New("execution context already attached")
	}
	old := c.handle
	c.handle = h
	c.active = true
	c.mu.Unlock()

	if old != nil {
		if err := old.Release(); err != nil {
			c.logger.Debug("release replaced context", "error", err)
		}
	}

	h.OnMessage(c.handleFrame)
	h.OnFault(c.handleFault)
	return nil
}

// Send creates a message, appends it to the queue tail, and transmits its
// frame to the execution context. The returned message carries the routing
// id and a future that is already pending;
// Send never blocks on the context. With no live context the frame is
// silently not transmitted but the message is still tracked — it settles
// only through explicit cancellation.
func (c *Client) Send(payload json.RawMessage) *Message {
	m := newMessage(payload)

	c.mu.Lock()
	c.queue.push(m)
	queueDepth.Set(float64(c.queue.len()))
	h := c.handle
	live := c.active && !c.released
	c.mu.Unlock()

	if live {
		if err := h.Send(protocol.Request{ID: m.id, Payload: m.payload}); err != nil {
			// The message stays pending; a broken stream surfaces as a
			// context fault through the handle's pump.
			c.logger.Debug("transmit failed", "message_id", m.id, "error", err)
		}
	}

	return m
}

// Override cancels everything queued — in-flight included — and sends a new
// request in its place. Use when only the newest request's result matters.
func (c *Client) Override(payload json.RawMessage, reason string) *Message {
	c.CancelAll(reason)
	return c.Send(payload)
}

// OverrideAfterCurrent lets the earliest-queued request run to completion,
// cancels every other queued request, and sends a new one. The protected
// head is whichever message was sent first, regardless of execution
// progress inside the context. With an empty queue this is exactly Send.
// The context is not terminated, so the head stays resolvable by its own
// terminal frame.
func (c *Client) OverrideAfterCurrent(payload json.RawMessage, reason string) *Message {
	c.mu.Lock()
	head := c.queue.popHead()
	rest := c.queue.drain()
	if head != nil {
		c.queue.push(head)
	}
	queueDepth.Set(float64(c.queue.len()))
	c.mu.Unlock()

	for _, m := range rest {
		m.cancel(reason)
		requestsTotal.WithLabelValues(outcomeCanceled).Inc()
	}

	return c.Send(payload)
}

// CancelAll hard-stops the execution context, cancels every queued message
// with the given reason, and clears the queue. The client does not spawn a
// replacement context; until Attach is called again, sends are tracked but
// not transmitted.
func (c *Client) CancelAll(reason string) {
	c.mu.Lock()
	var h worker.Handle
	if c.active {
		h = c.handle
		c.active = false
	}
	msgs := c.queue.drain()
	queueDepth.Set(0)
	c.mu.Unlock()

	if h != nil {
		h.Terminate()
	}
	for _, m := range msgs {
		m.cancel(reason)
		requestsTotal.WithLabelValues(outcomeCanceled).Inc()
	}
}

// Dispose cancels all pending work with no reason, releases the transient
// resources backing the context's code, and marks the client released.
// Operations after Dispose do not panic; sends are no longer delivered.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	h := c.handle
	wasActive := c.active
	c.handle = nil
	c.active = false
	msgs := c.queue.drain()
	queueDepth.Set(0)
	c.mu.Unlock()

	if h != nil {
		if wasActive {
			h.Terminate()
		}
		if err := h.Release(); err != nil {
			c.logger.Debug("release context resources", "error", err)
		}
	}
	for _, m := range msgs {
		m.cancel("")
		requestsTotal.WithLabelValues(outcomeCanceled).Inc()
	}
}

// Pending returns the number of requests awaiting settlement.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// handleFrame is the inbound demultiplexer. It routes a frame to the
// pending message with the same id and drives exactly one settlement per
// message; late, duplicate, and unknown-id frames are dropped silently.
func (c *Client) handleFrame(f protocol.Frame) {
	c.mu.Lock()

	m, ok := c.queue.get(f.ID)
	if !ok {
		c.mu.Unlock()
		unknownFramesTotal.Inc()
		c.logger.Debug("dropping frame for unknown id", "frame_id", f.ID)
		return
	}

	// Stale frame after teardown: forget the message but deliberately do
	// not settle it — the client lifecycle has already ended.
	if c.released {
		c.queue.remove(f.ID)
		c.mu.Unlock()
		return
	}

	ev := f.Event()
	if ev.Kind == protocol.EventProgress {
		c.mu.Unlock()
		m.reportProgress(ev.Progress)
		framesTotal.WithLabelValues("progress").Inc()
		return
	}

	// Terminal frame: removal happens under the lock, so no second frame
	// for this id can reach the settlement below.
	c.queue.remove(f.ID)
	queueDepth.Set(float64(c.queue.len()))
	c.mu.Unlock()

	framesTotal.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case protocol.EventCanceled:
		m.cancel(ev.Reason)
		requestsTotal.WithLabelValues(outcomeCanceled).Inc()
	case protocol.EventFailed:
		m.reject(ev.Reason)
		requestsTotal.WithLabelValues(outcomeFailed).Inc()
	case protocol.EventResolved:
		m.resolve(ev.Payload)
		requestsTotal.WithLabelValues(outcomeResolved).Inc()
	}
}

// handleFault observes a context-level fault. No message carries the fault's
// id (there is none), so nothing is settled; requests genuinely in flight
// stay pending until a caller cancels them.
func (c *Client) handleFault(reason string) {
	contextFaultsTotal.Inc()
	c.logger.Debug("context fault", "reason", reason)
}
