package model

import (
	"encoding/json"
	"time"
)

// Request status constants.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Send mode constants. The mode decides what happens to requests already
// queued when a new one is submitted.
const (
	ModeEnqueue              = "enqueue"
	ModeOverride             = "override"
	ModeOverrideAfterCurrent = "override_after_current"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Every settlement path leaves pending exactly once.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCanceled:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidMode reports whether s is a recognized send mode.
func ValidMode(s string) bool {
	switch s {
	case ModeEnqueue, ModeOverride, ModeOverrideAfterCurrent:
		return true
	}
	return false
}

// Terminal reports whether a status is a settled state.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCanceled
}

// Request represents one tracked worker request and its eventual settlement.
type Request struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Mode        string          `json:"mode"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	WasCanceled bool            `json:"was_canceled,omitempty"`
	Progress    *float64        `json:"progress,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`
}
