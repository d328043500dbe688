package client

// pendingQueue is an insertion-ordered id → Message mapping. Iteration
// order is send order, which defines "current" (the head) for the
// override-after-current policy. Not safe for concurrent use; the owning
// client guards it with its own mutex.
type pendingQueue struct {
	order []string
	byID  map[string]*Message
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{byID: make(map[string]*Message)}
}

func (q *pendingQueue) len() int {
	return len(q.order)
}

// push appends a message at the tail. Ids are ULIDs, so duplicates cannot
// occur; pushing an existing id would corrupt the order slice.
func (q *pendingQueue) push(m *Message) {
	q.order = append(q.order, m.id)
	q.byID[m.id] = m
}

func (q *pendingQueue) get(id string) (*Message, bool) {
	m, ok := q.byID[id]
	return m, ok
}

// remove deletes the entry for id and returns it, or nil if absent.
func (q *pendingQueue) remove(id string) *Message {
	m, ok := q.byID[id]
	if !ok {
		return nil
	}
	delete(q.byID, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return m
}

// popHead removes and returns the earliest-inserted entry, or nil when empty.
func (q *pendingQueue) popHead() *Message {
	if len(q.order) == 0 {
		return nil
	}
	id := q.order[0]
	q.order = q.order[1:]
	m := q.byID[id]
	delete(q.byID, id)
	return m
}

// drain removes every entry and returns them in insertion order.
func (q *pendingQueue) drain() []*Message {
	out := make([]*Message, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.byID[id])
	}
	q.order = q.order[:0]
	q.byID = make(map[string]*Message)
	return out
}
