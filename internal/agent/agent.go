// Package agent implements the worker-side serve loop of the frame
// protocol: it reads request frames from the client, runs the registered
// handler for each request concurrently, and streams back progress frames
// followed by exactly one terminal frame per request.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/seantiz/tether/internal/protocol"
)

// Handler processes one request payload. Calls to report stream progress
// percentages back to the client; the returned payload (or error) becomes
// the request's terminal frame.
type Handler func(ctx context.Context, payload json.RawMessage, report func(pct float64)) (json.RawMessage, error)

// cancellation is the error a handler returns to settle its request as
// canceled rather than failed.
type cancellation struct {
	reason string
}

func (c *cancellation) Error() string {
	if c.reason == "" {
		return "canceled"
	}
	return "canceled: " + c.reason
}

// Canceled returns an error that makes the agent emit a cancellation
// terminal frame carrying the given reason.
func Canceled(reason string) error {
	return &cancellation{reason: reason}
}

// Agent serves the worker side of one frame stream.
type Agent struct {
	reader  *bufio.Reader
	writer  io.Writer
	handler Handler

	// writeMu serializes frame writes from concurrent request goroutines.
	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates an agent reading requests from r and writing frames to w.
func New(r io.Reader, w io.Writer, handler Handler) *Agent {
	return &Agent{
		reader:  bufio.NewReader(r),
		writer:  w,
		handler: handler,
	}
}

// Serve reads request frames until the stream ends, running each request
// in its own goroutine. It returns after all in-flight handlers finish.
// A clean EOF (client closed the pipe) is not an error.
func (a *Agent) Serve(ctx context.Context) error {
	defer a.wg.Wait()

	for {
		var req protocol.Request
		if err := protocol.ReadFrame(a.reader, &req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || ctx.Err() != nil {
				return nil
			}
			// The stream is desynchronized; report a context-level fault
			// and give up rather than guess at frame boundaries.
			a.fault(fmt.Sprintf("read request: %v", err))
			return fmt.Errorf("read request: %w", err)
		}

		a.wg.Add(1)
		go func(req protocol.Request) {
			defer a.wg.Done()
			a.run(ctx, req)
		}(req)
	}
}

// run executes the handler for one request and writes its terminal frame.
func (a *Agent) run(ctx context.Context, req protocol.Request) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler panic for %s: %v", req.ID, r)
			a.send(protocol.Frame{ID: req.ID, Reason: fmt.Sprintf("handler panic: %v", r)})
		}
	}()

	report := func(pct float64) {
		a.send(protocol.Frame{ID: req.ID, Progress: &pct})
	}

	result, err := a.handler(ctx, req.Payload, report)

	var cancel *cancellation
	switch {
	case errors.As(err, &cancel):
		a.send(protocol.Frame{ID: req.ID, WasCanceled: true, Reason: cancel.reason})
	case err != nil:
		reason := err.Error()
		if reason == "" {
			reason = "request failed"
		}
		a.send(protocol.Frame{ID: req.ID, Reason: reason})
	default:
		a.send(protocol.Frame{ID: req.ID, Payload: result})
	}
}

// send writes one frame under the shared-writer mutex.
func (a *Agent) send(f protocol.Frame) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := protocol.WriteFrame(a.writer, &f); err != nil {
		log.Printf("write frame for %q: %v", f.ID, err)
	}
}

// fault emits an id-less fault frame for errors not tied to any request.
func (a *Agent) fault(reason string) {
	a.send(protocol.Frame{Reason: reason})
}
