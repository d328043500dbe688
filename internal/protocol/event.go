package protocol

import "encoding/json"

// EventKind identifies what an inbound frame means for the request it
// belongs to.
type EventKind int

// Frame event kinds, ordered by decode precedence.
const (
	// EventProgress is a non-terminal progress notification.
	EventProgress EventKind = iota
	// EventCanceled is a terminal cancellation.
	EventCanceled
	// EventFailed is a terminal failure carrying a reason.
	EventFailed
	// EventResolved is a terminal success carrying an optional payload.
	EventResolved
)

// String returns the kind name, mainly for metrics labels and logs.
func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventCanceled:
		return "canceled"
	case EventFailed:
		return "failed"
	case EventResolved:
		return "resolved"
	}
	return "unknown"
}

// Event is the decoded meaning of an inbound frame: exactly one of the four
// kinds, with the fields that kind carries.
type Event struct {
	Kind     EventKind
	Progress float64
	Reason   string
	Payload  json.RawMessage
}

// Event decodes the frame into its tagged variant. When a frame carries
// multiple fields, progress wins over any terminal field; among terminal
// fields cancellation wins over rejection, which wins over resolution.
func (f *Frame) Event() Event {
	switch {
	case f.Progress != nil:
		return Event{Kind: EventProgress, Progress: *f.Progress}
	case f.WasCanceled:
		return Event{Kind: EventCanceled, Reason: f.Reason}
	case f.Reason != "":
		return Event{Kind: EventFailed, Reason: f.Reason}
	default:
		return Event{Kind: EventResolved, Payload: f.Payload}
	}
}

// Fault reports whether the frame is a context-level fault: a reason with
// no request id attached.
func (f *Frame) Fault() bool {
	return f.ID == "" && f.Reason != ""
}
