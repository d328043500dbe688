package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/tether/internal/engine"
	"github.com/seantiz/tether/internal/model"
	"github.com/seantiz/tether/internal/protocol"
	"github.com/seantiz/tether/internal/store"
	"github.com/seantiz/tether/internal/worker"
)

// scriptedHandle is a fake execution context. Its respond function decides
// what frames come back for each transmitted request; a nil respond leaves
// requests hanging.
type scriptedHandle struct {
	respond func(req protocol.Request, emit func(protocol.Frame))

	mu         sync.Mutex
	onMessage  func(protocol.Frame)
	onFault    func(string)
	sent       []protocol.Request
	terminated bool
	released   bool
}

func (h *scriptedHandle) Send(req protocol.Request) error {
	h.mu.Lock()
	h.sent = append(h.sent, req)
	respond := h.respond
	h.mu.Unlock()

	if respond != nil {
		go respond(req, h.emit)
	}
	return nil
}

func (h *scriptedHandle) OnMessage(fn func(protocol.Frame)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

func (h *scriptedHandle) OnFault(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFault = fn
}

func (h *scriptedHandle) Terminate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = true
}

func (h *scriptedHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	return nil
}

func (h *scriptedHandle) emit(f protocol.Frame) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

func (h *scriptedHandle) isTerminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// scriptedSpawner hands out one scriptedHandle per Spawn call, each wired
// with the respond function for its generation.
type scriptedSpawner struct {
	mu       sync.Mutex
	handles  []*scriptedHandle
	responds []func(req protocol.Request, emit func(protocol.Frame))
}

func (s *scriptedSpawner) Spawn(_ context.Context, _ worker.Options) (worker.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var respond func(req protocol.Request, emit func(protocol.Frame))
	if len(s.handles) < len(s.responds) {
		respond = s.responds[len(s.handles)]
	}
	h := &scriptedHandle{respond: respond}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *scriptedSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *scriptedSpawner) handle(i int) *scriptedHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[i]
}

// echo answers every request with its own payload as the terminal frame.
func echo(req protocol.Request, emit func(protocol.Frame)) {
	emit(protocol.Frame{ID: req.ID, Payload: req.Payload})
}

func newTestEngine(t *testing.T, responds ...func(protocol.Request, func(protocol.Frame))) (*engine.Engine, *scriptedSpawner, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	sp := &scriptedSpawner{responds: responds}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.New(s, sp, worker.Options{Name: "test-worker"}, logger)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng, sp, s
}

// waitForStatus polls the store until the request reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.Request {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r, err := s.GetRequest(context.Background(), id)
		if err != nil {
			t.Fatalf("GetRequest: %v", err)
		}
		if r.Status == expected {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("request %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestSubmitEnqueueResolves(t *testing.T) {
	eng, sp, s := newTestEngine(t, echo)

	rec, err := eng.Submit(context.Background(), json.RawMessage(`{"op":"echo"}`), model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != model.StatusPending {
		t.Errorf("initial status = %q, want pending", rec.Status)
	}

	got := waitForStatus(t, s, rec.ID, model.StatusCompleted, 5*time.Second)
	if string(got.Result) != `{"op":"echo"}` {
		t.Errorf("result = %s, want the echoed payload", got.Result)
	}
	if sp.count() != 1 {
		t.Errorf("spawned %d contexts, want 1", sp.count())
	}
}

func TestSubmitProgressPersisted(t *testing.T) {
	respond := func(req protocol.Request, emit func(protocol.Frame)) {
		pct := 50.0
		emit(protocol.Frame{ID: req.ID, Progress: &pct})
		emit(protocol.Frame{ID: req.ID, Payload: json.RawMessage(`"done"`)})
	}
	eng, _, s := newTestEngine(t, respond)

	rec, err := eng.Submit(context.Background(), nil, model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForStatus(t, s, rec.ID, model.StatusCompleted, 5*time.Second)
	if got.Progress == nil || *got.Progress != 50 {
		t.Errorf("persisted progress = %v, want 50", got.Progress)
	}
}

func TestSubmitFailurePersisted(t *testing.T) {
	respond := func(req protocol.Request, emit func(protocol.Frame)) {
		emit(protocol.Frame{ID: req.ID, Reason: "no such operation"})
	}
	eng, _, s := newTestEngine(t, respond)

	rec, err := eng.Submit(context.Background(), nil, model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := waitForStatus(t, s, rec.ID, model.StatusFailed, 5*time.Second)
	if got.Error == "" {
		t.Error("failed record has no error message")
	}
	if got.WasCanceled {
		t.Error("failure should not set was_canceled")
	}
}

func TestSubmitOverrideReplacesContext(t *testing.T) {
	// First context never answers; second echoes.
	eng, sp, s := newTestEngine(t, nil, echo)

	first, err := eng.Submit(context.Background(), json.RawMessage(`"a"`), model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}

	second, err := eng.Submit(context.Background(), json.RawMessage(`"b"`), model.ModeOverride, "superseded")
	if err != nil {
		t.Fatalf("Submit override: %v", err)
	}

	gotFirst := waitForStatus(t, s, first.ID, model.StatusCanceled, 5*time.Second)
	if !gotFirst.WasCanceled {
		t.Error("overridden request not marked canceled")
	}
	if gotFirst.Reason != "superseded" {
		t.Errorf("reason = %q, want %q", gotFirst.Reason, "superseded")
	}

	gotSecond := waitForStatus(t, s, second.ID, model.StatusCompleted, 5*time.Second)
	if string(gotSecond.Result) != `"b"` {
		t.Errorf("override result = %s, want \"b\"", gotSecond.Result)
	}

	if sp.count() != 2 {
		t.Fatalf("spawned %d contexts, want 2", sp.count())
	}
	if !sp.handle(0).isTerminated() {
		t.Error("first context not terminated by override")
	}
}

func TestSubmitOverrideAfterCurrentSparesHead(t *testing.T) {
	// The context answers nothing on its own; the test drives frames.
	eng, sp, s := newTestEngine(t, nil)

	head, err := eng.Submit(context.Background(), json.RawMessage(`"head"`), model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit head: %v", err)
	}
	queued, err := eng.Submit(context.Background(), json.RawMessage(`"queued"`), model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit queued: %v", err)
	}

	next, err := eng.Submit(context.Background(), json.RawMessage(`"next"`), model.ModeOverrideAfterCurrent, "new work")
	if err != nil {
		t.Fatalf("Submit override-after-current: %v", err)
	}

	// The middle request is canceled; the head and the new one stay pending.
	waitForStatus(t, s, queued.ID, model.StatusCanceled, 5*time.Second)
	if got, _ := s.GetRequest(context.Background(), head.ID); got.Status != model.StatusPending {
		t.Errorf("head status = %q, want pending", got.Status)
	}

	// Same context throughout, still answering.
	if sp.count() != 1 {
		t.Fatalf("spawned %d contexts, want 1", sp.count())
	}
	h := sp.handle(0)
	if h.isTerminated() {
		t.Fatal("context terminated by override-after-current")
	}

	h.emit(protocol.Frame{ID: head.ID, Payload: json.RawMessage(`"head done"`)})
	h.emit(protocol.Frame{ID: next.ID, Payload: json.RawMessage(`"next done"`)})

	gotHead := waitForStatus(t, s, head.ID, model.StatusCompleted, 5*time.Second)
	if string(gotHead.Result) != `"head done"` {
		t.Errorf("head result = %s, want \"head done\"", gotHead.Result)
	}
	waitForStatus(t, s, next.ID, model.StatusCompleted, 5*time.Second)
}

func TestCancelAllRespawnsContext(t *testing.T) {
	eng, sp, s := newTestEngine(t, nil, echo)

	rec, err := eng.Submit(context.Background(), nil, model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := eng.CancelAll(context.Background(), "shutting down"); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}

	got := waitForStatus(t, s, rec.ID, model.StatusCanceled, 5*time.Second)
	if got.Reason != "shutting down" {
		t.Errorf("reason = %q, want %q", got.Reason, "shutting down")
	}
	if sp.count() != 2 {
		t.Fatalf("spawned %d contexts, want 2", sp.count())
	}
	if !sp.handle(0).isTerminated() {
		t.Error("context not terminated by CancelAll")
	}

	// The fresh context carries new work.
	after, err := eng.Submit(context.Background(), json.RawMessage(`"after"`), model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit after CancelAll: %v", err)
	}
	waitForStatus(t, s, after.ID, model.StatusCompleted, 5*time.Second)
}

func TestSubmitInvalidMode(t *testing.T) {
	eng, _, _ := newTestEngine(t, echo)

	if _, err := eng.Submit(context.Background(), nil, "sideways", ""); err == nil {
		t.Error("Submit accepted an invalid mode")
	}
}

func TestBrokerStreamsProgress(t *testing.T) {
	eng, sp, s := newTestEngine(t, nil)

	rec, err := eng.Submit(context.Background(), nil, model.ModeEnqueue, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ch, unsub := eng.Broker().Subscribe(rec.ID)
	defer unsub()

	h := sp.handle(0)
	pct := 30.0
	h.emit(protocol.Frame{ID: rec.ID, Progress: &pct})

	select {
	case got := <-ch:
		if got != 30 {
			t.Errorf("streamed progress = %v, want 30", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no progress update streamed")
	}

	// Settlement closes the stream.
	h.emit(protocol.Frame{ID: rec.ID, Payload: json.RawMessage(`"done"`)})
	waitForStatus(t, s, rec.ID, model.StatusCompleted, 5*time.Second)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed progress stream after settlement")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("progress stream not closed after settlement")
	}
}
