// Package worker defines the execution-context boundary: the contract a
// context provider must satisfy and the process-based provider used by the
// daemon. A context is an isolated unit reachable only through frames; the
// client never shares memory with it.
package worker

import (
	"context"

	"github.com/seantiz/tether/internal/protocol"
)

// Handle is a live execution context. All interaction happens through
// serialized frames; Terminate is a hard stop with no graceful drain.
type Handle interface {
	// Send transmits one outbound request frame to the context.
	Send(req protocol.Request) error

	// OnMessage registers the callback invoked for every inbound frame.
	// Must be called before the first Send.
	OnMessage(fn func(protocol.Frame))

	// OnFault registers the callback invoked when the context itself fails:
	// an id-less fault frame, a broken stream, or an unexpected exit.
	OnFault(fn func(reason string))

	// Terminate hard-stops the context. In-flight work is abandoned.
	Terminate()

	// Release frees any transient resources backing the context's code,
	// such as a temp directory holding an inline source. Idempotent.
	Release() error
}

// Options describes the execution context to spawn. Either Command refers
// to a ready worker program, or Source carries an inline program that the
// spawner stages into a one-time-use location and appends to Args.
type Options struct {
	Command string
	Args    []string
	Source  []byte
	Scripts []string
	Name    string
}

// Spawner creates execution contexts. Construction is deliberately outside
// the client core: the client owns a handle, never the recipe for one.
type Spawner interface {
	Spawn(ctx context.Context, opts Options) (Handle, error)
}
