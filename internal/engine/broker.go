package engine

import "sync"

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Updates are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ProgressBroker fans out per-request progress percentages to subscribers.
// It is safe for concurrent use.
//
// Settled topics are retained as markers so that late subscribers (those
// subscribing after a request settles) receive a closed channel instead of
// blocking forever. Each marker is a few bytes, which is acceptable for the
// expected request volume.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan float64
	nextID int
	closed bool
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Subscribe returns a channel that receives progress percentages for the
// given request and an unsubscribe function. If the request has already
// settled (Close was called), the returned channel is immediately closed.
func (b *ProgressBroker) Subscribe(requestID string) (<-chan float64, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[requestID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan float64)}
		b.topics[requestID] = t
	}

	ch := make(chan float64, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a progress percentage to all subscribers of the given
// request. Updates are dropped for subscribers whose buffers are full.
func (b *ProgressBroker) Publish(requestID string, pct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[requestID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- pct:
		default:
			// Drop update for slow subscribers to avoid blocking settlement.
		}
	}
}

// Close signals that no more progress will be published for the given
// request. All subscriber channels are closed and future Subscribe calls
// return a closed channel.
func (b *ProgressBroker) Close(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[requestID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[requestID] = &progressTopic{subs: make(map[int]chan float64), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
