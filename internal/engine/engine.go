// Package engine ties the coordination client to the daemon's durable
// surfaces. It spawns and replaces execution contexts, records every
// submitted request in the store, mirrors progress to the broker for SSE
// subscribers, and settles each record when its future settles.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/tether/internal/client"
	"github.com/seantiz/tether/internal/model"
	"github.com/seantiz/tether/internal/store"
	"github.com/seantiz/tether/internal/worker"
)

// Engine orchestrates the worker lifecycle around a single client.
type Engine struct {
	store   store.Store
	spawner worker.Spawner
	opts    worker.Options
	client  *client.Client
	broker  *ProgressBroker
	logger  *slog.Logger

	// spawnMu serializes context replacement so that two concurrent
	// override or restart paths cannot both attach a handle.
	spawnMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates an engine. Call Start to spawn the first execution context.
func New(s store.Store, spawner worker.Spawner, opts worker.Options, logger *slog.Logger) *Engine {
	return &Engine{
		store:   s,
		spawner: spawner,
		opts:    opts,
		client:  client.New(logger),
		broker:  NewProgressBroker(),
		logger:  logger,
	}
}

// Broker returns the engine's progress broker for SSE subscription.
func (e *Engine) Broker() *ProgressBroker {
	return e.broker
}

// Pending returns the number of requests awaiting settlement.
func (e *Engine) Pending() int {
	return e.client.Pending()
}

// Start spawns the initial execution context and attaches it.
func (e *Engine) Start(ctx context.Context) error {
	return e.respawn(ctx)
}

// Submit dispatches a payload with the given send mode, records the request,
// and launches a watcher that keeps the record in sync with the future. The
// returned request is the stored pending record.
func (e *Engine) Submit(ctx context.Context, payload json.RawMessage, mode, reason string) (*model.Request, error) {
	if !model.ValidMode(mode) {
		return nil, fmt.Errorf("invalid mode %q", mode)
	}

	var m *client.Message
	switch mode {
	case model.ModeOverride:
		// Everything queued is discarded with the context; the replacement
		// context starts clean and the new request is first in.
		e.client.CancelAll(reason)
		if err := e.respawn(ctx); err != nil {
			return nil, fmt.Errorf("respawn context: %w", err)
		}
		m = e.client.Send(payload)
	case model.ModeOverrideAfterCurrent:
		m = e.client.OverrideAfterCurrent(payload, reason)
	default:
		m = e.client.Send(payload)
	}

	rec := &model.Request{
		ID:        m.ID(),
		Status:    model.StatusPending,
		Mode:      mode,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateRequest(ctx, rec); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	e.wg.Add(1)
	go e.watch(m)

	return rec, nil
}

// CancelAll cancels every pending request with the given reason, terminates
// the current execution context, and spawns a fresh one so that subsequent
// sends are transmitted again.
func (e *Engine) CancelAll(ctx context.Context, reason string) error {
	e.client.CancelAll(reason)
	if err := e.respawn(ctx); err != nil {
		return fmt.Errorf("respawn context: %w", err)
	}
	return nil
}

// RestartWorker replaces the execution context. Pending requests are
// canceled; the worker restart invalidates any work they represented.
func (e *Engine) RestartWorker(ctx context.Context) error {
	return e.CancelAll(ctx, "worker restarted")
}

// Close disposes the client, abandoning the execution context, and waits
// for in-flight watchers to settle their records.
func (e *Engine) Close() {
	e.client.Dispose()
	e.wg.Wait()
}

// respawn spawns a fresh execution context and attaches it to the client.
func (e *Engine) respawn(ctx context.Context) error {
	e.spawnMu.Lock()
	defer e.spawnMu.Unlock()

	h, err := e.spawner.Spawn(ctx, e.opts)
	if err != nil {
		return fmt.Errorf("spawn context: %w", err)
	}
	if err := e.client.Attach(h); err != nil {
		h.Terminate()
		return fmt.Errorf("attach context: %w", err)
	}

	e.logger.Info("execution context attached", "worker", e.opts.Name)
	return nil
}

// watch mirrors one future into the durable surfaces: progress updates flow
// to the store and broker, and the settlement becomes the record's terminal
// state. The broker topic closes when the future settles, which ends any
// SSE streams for the request.
func (e *Engine) watch(m *client.Message) {
	defer e.wg.Done()
	defer e.broker.Close(m.ID())

	fut := m.Future()
	for pct := range fut.Progress() {
		e.broker.Publish(m.ID(), pct)
		if err := e.store.UpdateRequestProgress(context.Background(), m.ID(), pct); err != nil {
			e.logger.Error("persist progress", "request_id", m.ID(), "error", err)
		}
	}

	// Progress channel closed: the future has settled.
	e.settleRecord(m.ID(), fut)
}

// settleRecord writes the future's outcome to the store. A record that
// already settled is left alone; the first outcome wins in the store too.
func (e *Engine) settleRecord(id string, fut *client.Future) {
	result, err := fut.Result()

	rec := &model.Request{ID: id}
	var canceled *client.CanceledError
	switch {
	case err == nil:
		rec.Status = model.StatusCompleted
		rec.Result = result
	case errors.As(err, &canceled):
		rec.Status = model.StatusCanceled
		rec.WasCanceled = true
		rec.Reason = canceled.Reason
	default:
		rec.Status = model.StatusFailed
		rec.Error = err.Error()
	}

	if err := e.store.SettleRequest(context.Background(), rec); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Error("settle request record", "request_id", id, "error", err)
	}
}
