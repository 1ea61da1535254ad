package session

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Status describes how a child process ended. Signal is empty unless the
// child died to a signal, in which case Code is -1.
type Status struct {
	Code   int
	Signal string
}

// ExecHandle is the capability surface the session needs from a running
// child: raw I/O against its terminal, geometry changes, a non-blocking exit
// probe, and forced termination. The production implementation wraps a
// creack/pty master; tests substitute a scripted double.
type ExecHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	// ExitStatus reports the child's exit status without blocking. The second
	// return is false while the child is still running.
	ExitStatus() (Status, bool)
	// Terminate kills the child unconditionally (SIGKILL).
	Terminate() error
	Close() error
}

// ptyHandle runs the child attached to the slave side of a pseudo-terminal.
type ptyHandle struct {
	ptmx *os.File
	cmd  *exec.Cmd

	mu     sync.Mutex
	status Status
	exited bool
}

// startCommand opens a PTY of the given size and spawns argv on it.
func startCommand(argv []string, cols, rows uint16) (*ptyHandle, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("error starting pty: %w", err)
	}
	h := &ptyHandle{ptmx: ptmx, cmd: cmd}
	go h.wait()
	return h, nil
}

// wait reaps the child as soon as it exits so ExitStatus stays non-blocking.
func (h *ptyHandle) wait() {
	err := h.cmd.Wait()
	var st Status
	if exitErr, ok := err.(*exec.ExitError); ok {
		st.Code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Code = -1
			st.Signal = unix.SignalName(ws.Signal())
		}
	} else if err != nil {
		st.Code = -1
	}

	h.mu.Lock()
	h.status = st
	h.exited = true
	h.mu.Unlock()
}

func (h *ptyHandle) Read(p []byte) (int, error) {
	return h.ptmx.Read(p)
}

func (h *ptyHandle) Write(p []byte) (int, error) {
	return h.ptmx.Write(p)
}

func (h *ptyHandle) Resize(cols, rows uint16) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (h *ptyHandle) ExitStatus() (Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exited
}

func (h *ptyHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(unix.SIGKILL)
}

func (h *ptyHandle) Close() error {
	return h.ptmx.Close()
}
