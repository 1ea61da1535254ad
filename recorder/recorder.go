// Package recorder persists a session's I/O as an asciinema v2 cast file:
// one JSON header line followed by [elapsed, code, data] event triples.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"spectty/frame"
)

// ErrRecording marks a recording destination or write failure. Recording is
// best-effort: the session keeps running without it.
var ErrRecording = errors.New("recording failed")

type header struct {
	Version   int    `json:"version"`
	Width     uint16 `json:"width"`
	Height    uint16 `json:"height"`
	Timestamp int64  `json:"timestamp"`
	Title     string `json:"title,omitempty"`
	Command   string `json:"command,omitempty"`
	Env       env    `json:"env"`
}

type env struct {
	Shell string `json:"SHELL"`
	Term  string `json:"TERM"`
}

// Recorder appends events to one cast file. The header is written exactly
// once, before any event; Finish flushes and closes exactly once. Elapsed
// times are rooted at recorder start, not at frame timestamps.
type Recorder struct {
	file     *os.File
	writer   *bufio.Writer
	start    time.Time
	finished bool
}

// NewRecorder creates the cast file and writes the v2 header immediately.
func NewRecorder(path string, width, height uint16, title, command string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrRecording, path, err)
	}

	r := &Recorder{
		file:   f,
		writer: bufio.NewWriter(f),
		start:  time.Now(),
	}

	h := header{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: time.Now().Unix(),
		Title:     title,
		Command:   command,
		Env: env{
			Shell: envOr("SHELL", "/bin/sh"),
			Term:  envOr("TERM", "xterm-256color"),
		},
	}
	if err := r.writeLine(h); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := r.writer.Flush(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: write header: %v", ErrRecording, err)
	}
	return r, nil
}

// RecordFrame appends one event line for an eligible frame and flushes it
// synchronously. stdout and stderr map to output events, stdin to input; a
// resize becomes a comment-style output line (the format has no resize
// event); everything else is dropped.
func (r *Recorder) RecordFrame(f frame.Frame) error {
	if r.finished {
		return nil
	}

	var code, data string
	switch f.Type {
	case frame.Stdout, frame.Stderr:
		code, data = "o", f.DataString()
	case frame.Stdin:
		code, data = "i", f.DataString()
	case frame.Resize:
		if f.Cols == 0 || f.Rows == 0 {
			return nil
		}
		code, data = "o", "# Terminal resized\r\n"
	default:
		return nil
	}

	elapsed := time.Since(r.start).Seconds()
	if err := r.writeLine([]interface{}{elapsed, code, data}); err != nil {
		return err
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("%w: write event: %v", ErrRecording, err)
	}
	return nil
}

// Finish flushes and closes the file. Further calls, and any RecordFrame
// after it, are no-ops.
func (r *Recorder) Finish() error {
	if r.finished {
		return nil
	}
	r.finished = true
	if err := r.writer.Flush(); err != nil {
		_ = r.file.Close()
		return fmt.Errorf("%w: flush: %v", ErrRecording, err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrRecording, err)
	}
	return nil
}

func (r *Recorder) writeLine(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrRecording, err)
	}
	if _, err := r.writer.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("%w: write: %v", ErrRecording, err)
	}
	return nil
}

// Manager holds at most one active recorder per session.
type Manager struct {
	recorder *Recorder
}

func NewManager() *Manager {
	return &Manager{}
}

// StartRecording opens the destination and writes the header. It fails if a
// recording is already active or the file cannot be created.
func (m *Manager) StartRecording(path string, width, height uint16, title, command string) error {
	if m.recorder != nil {
		return fmt.Errorf("%w: recording already active", ErrRecording)
	}
	r, err := NewRecorder(path, width, height, title, command)
	if err != nil {
		return err
	}
	m.recorder = r
	return nil
}

// RecordFrame forwards to the active recorder, if any. A write failure
// deactivates recording; the error is reported once and the stream goes on.
func (m *Manager) RecordFrame(f frame.Frame) error {
	if m.recorder == nil {
		return nil
	}
	if err := m.recorder.RecordFrame(f); err != nil {
		_ = m.recorder.Finish()
		m.recorder = nil
		return err
	}
	return nil
}

// StopRecording finalizes the active recording. Safe to call repeatedly.
func (m *Manager) StopRecording() error {
	if m.recorder == nil {
		return nil
	}
	err := m.recorder.Finish()
	m.recorder = nil
	return err
}

func (m *Manager) IsRecording() bool {
	return m.recorder != nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
