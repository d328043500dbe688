package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/seantiz/tether/internal/protocol"
)

// sourceFileName is the filename used when staging an inline source program.
const sourceFileName = "main.src"

// ProcessSpawner launches execution contexts as worker subprocesses that
// speak length-prefixed JSON frames over stdin/stdout.
type ProcessSpawner struct {
	logger *slog.Logger
}

// NewProcessSpawner creates a spawner that logs subprocess lifecycle events
// to the given logger.
func NewProcessSpawner(logger *slog.Logger) *ProcessSpawner {
	return &ProcessSpawner{logger: logger}
}

// Spawn starts the worker subprocess described by opts. When opts.Source is
// set, the source and any auxiliary scripts are staged into a per-context
// temp directory whose path is appended to the command arguments; the
// directory lives until Release.
func (p *ProcessSpawner) Spawn(ctx context.Context, opts Options) (Handle, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("spawn %q: no command configured", opts.Name)
	}

	args := opts.Args
	dir := ""
	if len(opts.Source) > 0 {
		staged, err := stageSource(opts)
		if err != nil {
			return nil, err
		}
		dir = staged
		args = append(append([]string(nil), opts.Args...), filepath.Join(dir, sourceFileName))
	}

	cmd := exec.Command(opts.Command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cleanupDir(dir)
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanupDir(dir)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanupDir(dir)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	select {
	case <-ctx.Done():
		cleanupDir(dir)
		return nil, fmt.Errorf("spawn %q: %w", opts.Name, ctx.Err())
	default:
	}

	if err := cmd.Start(); err != nil {
		cleanupDir(dir)
		return nil, fmt.Errorf("start worker %q: %w", opts.Name, err)
	}

	h := &processHandle{
		name:   opts.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: p.logger,
		dir:    dir,
		done:   make(chan struct{}),
	}

	go h.drainStderr(stderr)

	p.logger.Info("worker spawned",
		"name", opts.Name,
		"command", opts.Command,
		"pid", cmd.Process.Pid,
	)

	return h, nil
}

// stageSource writes the inline source and auxiliary scripts into a fresh
// temp directory and returns its path.
func stageSource(opts Options) (string, error) {
	dir, err := os.MkdirTemp("", "tether-ctx-")
	if err != nil {
		return "", fmt.Errorf("create source dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, sourceFileName), opts.Source, 0o644); err != nil {
		cleanupDir(dir)
		return "", fmt.Errorf("stage source: %w", err)
	}

	for _, script := range opts.Scripts {
		data, err := os.ReadFile(script)
		if err != nil {
			cleanupDir(dir)
			return "", fmt.Errorf("read script %s: %w", script, err)
		}
		target := filepath.Join(dir, filepath.Base(script))
		if err := os.WriteFile(target, data, 0o644); err != nil {
			cleanupDir(dir)
			return "", fmt.Errorf("stage script %s: %w", script, err)
		}
	}

	return dir, nil
}

func cleanupDir(dir string) {
	if dir != "" {
		os.RemoveAll(dir)
	}
}

// processHandle is the Handle implementation backed by a subprocess.
type processHandle struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *slog.Logger
	dir    string

	writeMu sync.Mutex

	cbMu      sync.RWMutex
	onMessage func(protocol.Frame)
	onFault   func(string)

	pumpOnce   sync.Once
	termOnce   sync.Once
	relOnce    sync.Once
	relErr     error
	terminated atomic.Bool
	done       chan struct{}
}

// Send writes one request frame to the worker's stdin. Concurrent senders
// are serialized so frames never interleave on the pipe.
func (h *processHandle) Send(req protocol.Request) error {
	h.startPump()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.terminated.Load() {
		return fmt.Errorf("worker %q terminated", h.name)
	}
	if err := protocol.WriteFrame(h.stdin, &req); err != nil {
		return fmt.Errorf("send to worker %q: %w", h.name, err)
	}
	return nil
}

// OnMessage registers the inbound frame callback and starts the read pump.
func (h *processHandle) OnMessage(fn func(protocol.Frame)) {
	h.cbMu.Lock()
	h.onMessage = fn
	h.cbMu.Unlock()
	h.startPump()
}

// OnFault registers the context fault callback.
func (h *processHandle) OnFault(fn func(string)) {
	h.cbMu.Lock()
	h.onFault = fn
	h.cbMu.Unlock()
}

func (h *processHandle) startPump() {
	h.pumpOnce.Do(func() {
		go h.pump()
	})
}

// pump reads inbound frames until the stream ends. Frames carrying an id
// go to onMessage; id-less fault frames and stream breakage go to onFault.
func (h *processHandle) pump() {
	defer close(h.done)

	reader := bufio.NewReader(h.stdout)
	for {
		var f protocol.Frame
		if err := protocol.ReadFrame(reader, &f); err != nil {
			if !h.terminated.Load() {
				h.fault(fmt.Sprintf("worker %q stream closed: %v", h.name, err))
			}
			return
		}

		if f.Fault() {
			h.fault(f.Reason)
			continue
		}

		h.cbMu.RLock()
		fn := h.onMessage
		h.cbMu.RUnlock()
		if fn != nil {
			fn(f)
		}
	}
}

func (h *processHandle) fault(reason string) {
	h.cbMu.RLock()
	fn := h.onFault
	h.cbMu.RUnlock()
	if fn != nil {
		fn(reason)
	}
}

// Terminate hard-stops the subprocess. Any work in flight is abandoned.
func (h *processHandle) Terminate() {
	h.termOnce.Do(func() {
		h.terminated.Store(true)
		h.stdin.Close()
		if h.cmd.Process != nil {
			if err := h.cmd.Process.Kill(); err != nil {
				h.logger.Debug("kill worker", "name", h.name, "error", err)
			}
		}
		// Reap the process off the caller's path; Terminate must not block
		// on a child that is slow to die.
		go func() {
			_ = h.cmd.Wait()
			h.logger.Debug("worker reaped", "name", h.name)
		}()
	})
}

// Release removes the staged source directory, if any. Safe to call more
// than once and after Terminate.
func (h *processHandle) Release() error {
	h.relOnce.Do(func() {
		if h.dir == "" {
			return
		}
		if err := os.RemoveAll(h.dir); err != nil {
			h.relErr = fmt.Errorf("release source dir: %w", err)
		}
	})
	return h.relErr
}

// drainStderr forwards worker stderr lines to the structured log so worker
// diagnostics are not lost.
func (h *processHandle) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		h.logger.Debug("worker stderr", "name", h.name, "line", scanner.Text())
	}
}
