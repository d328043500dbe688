package client

import "errors"

// ErrDisposed is returned by Attach after the client has been disposed.
var ErrDisposed = errors.New("worker client disposed")

// RequestError is a context-reported failure for a specific request. It is
// never produced by client-side cancellation.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return "request failed: " + e.Reason
}

// CanceledError marks a request that was canceled rather than failed, so
// callers can tell "my request was superseded" apart from "it failed".
// Reason may be empty.
type CanceledError struct {
	Reason string
}

func (e *CanceledError) Error() string {
	if e.Reason == "" {
		return "request canceled"
	}
	return "request canceled: " + e.Reason
}

// IsCanceled reports whether err represents a cancellation outcome.
func IsCanceled(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce)
}
