package client

import (
	"encoding/json"

	"github.com/seantiz/tether/internal/model"
)

// Message is the client-side record of one outstanding request: its routing
// id, the payload that was transmitted, and the future the caller holds.
// Settlement discipline is enforced by the owning client's queue-removal
// protocol; the message itself only guarantees settle-once.
type Message struct {
	id      string
	payload json.RawMessage
	fut     *Future
}

func newMessage(payload json.RawMessage) *Message {
	return &Message{
		id:      model.NewID(),
		payload: payload,
		fut:     newFuture(),
	}
}

// ID returns the message's routing key.
func (m *Message) ID() string {
	return m.id
}

// Future returns the caller-facing completion handle.
func (m *Message) Future() *Future {
	return m.fut
}

// resolve settles the message as a success. No-op if already settled.
func (m *Message) resolve(result json.RawMessage) {
	m.fut.settle(result, nil, true)
}

// reject settles the message as a failure. No-op if already settled.
func (m *Message) reject(reason string) {
	m.fut.settle(nil, &RequestError{Reason: reason}, false)
}

// cancel settles the message as canceled. No-op if already settled.
func (m *Message) cancel(reason string) {
	m.fut.settle(nil, &CanceledError{Reason: reason}, false)
}

// reportProgress forwards a progress notification; ignored after settlement.
func (m *Message) reportProgress(pct float64) {
	m.fut.reportProgress(pct)
}
