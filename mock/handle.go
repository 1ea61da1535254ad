// Package mock provides a deterministic ExecHandle double for tests: output
// is scripted, writes and resizes are recorded, and exit is driven by the
// test instead of a real child process.
package mock

import (
	"io"
	"sync"

	"spectty/session"
)

// Handle implements session.ExecHandle without any OS resources.
type Handle struct {
	mu         sync.Mutex
	writes     [][]byte
	cols       uint16
	rows       uint16
	status     session.Status
	exited     bool
	terminated bool

	output    chan []byte
	closeOnce sync.Once
}

func NewHandle() *Handle {
	// Large enough that tests can script a backlog well past the session's
	// own frame queue without QueueOutput ever blocking.
	return &Handle{output: make(chan []byte, 4096)}
}

// QueueOutput schedules a chunk to be returned by a future Read.
func (h *Handle) QueueOutput(s string) {
	h.output <- []byte(s)
}

// CloseOutput makes Read return io.EOF once the queued chunks are drained.
func (h *Handle) CloseOutput() {
	h.closeOnce.Do(func() { close(h.output) })
}

// Exit marks the child as exited with the given code.
func (h *Handle) Exit(code int) {
	h.mu.Lock()
	h.status = session.Status{Code: code}
	h.exited = true
	h.mu.Unlock()
}

// ExitSignal marks the child as killed by the named signal.
func (h *Handle) ExitSignal(name string) {
	h.mu.Lock()
	h.status = session.Status{Code: -1, Signal: name}
	h.exited = true
	h.mu.Unlock()
}

func (h *Handle) Read(p []byte) (int, error) {
	chunk, ok := <-h.output
	if !ok {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	h.writes = append(h.writes, buf)
	return len(p), nil
}

func (h *Handle) Resize(cols, rows uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cols, h.rows = cols, rows
	return nil
}

func (h *Handle) ExitStatus() (session.Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exited
}

func (h *Handle) Terminate() error {
	h.mu.Lock()
	h.terminated = true
	h.status = session.Status{Code: -1, Signal: "SIGKILL"}
	h.exited = true
	h.mu.Unlock()
	h.CloseOutput()
	return nil
}

func (h *Handle) Close() error {
	h.CloseOutput()
	return nil
}

// Writes returns everything written to the handle, in order.
func (h *Handle) Writes() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.writes))
	copy(out, h.writes)
	return out
}

// Size returns the last geometry set by Resize.
func (h *Handle) Size() (cols, rows uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cols, h.rows
}

// Terminated reports whether Terminate was called.
func (h *Handle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}
