// Package app runs the top-level event loop: it pulls frames from the PTY
// session, threads them through the output processor, and fans the results
// out to the recorder and the local sink.
package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"spectty/config"
	"spectty/frame"
	"spectty/log"
	"spectty/processor"
	"spectty/recorder"
	"spectty/session"

	"golang.org/x/sys/unix"
)

// sink delivers processed frames to the client.
type sink interface {
	Emit(f frame.Frame) error
}

// jsonSink writes one JSON object per line, flushed per frame so
// line-oriented consumers observe it promptly.
type jsonSink struct {
	w *bufio.Writer
}

func (s *jsonSink) Emit(f frame.Frame) error {
	line, err := f.Encode()
	if err != nil {
		return err
	}
	if _, err := s.w.WriteString(line + "\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

type nopSink struct{}

func (nopSink) Emit(frame.Frame) error { return nil }

// Run validates the configuration, starts the session, and drives the event
// loop until a termination signal arrives, the frame stream ends, or the
// session completes. It returns nil on clean shutdown.
func Run(ctx context.Context, cfg *config.Config) error {
	return run(ctx, cfg, os.Stdout)
}

func run(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.SocketPath != "" || cfg.BindAddr != "" {
		log.WarningLog.Printf("remote transports are not served yet; emitting locally only")
	}
	if cfg.StateDir != "" {
		log.InfoLog.Printf("state dir %s configured; session resurrection is not implemented", cfg.StateDir)
	}

	sess, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.ErrorLog.Printf("error closing session: %v", err)
		}
	}()

	proc := processor.New(processor.Mode(cfg.TokenMode), cfg.PromptRegexps())

	manager := recorder.NewManager()
	if cfg.RecordPath != "" {
		title := fmt.Sprintf("spectty session %s", sess.ID)
		if err := manager.StartRecording(cfg.RecordPath, cfg.Cols, cfg.Rows, title, cfg.CommandLine()); err != nil {
			return err
		}
		log.InfoLog.Printf("recording to %s", cfg.RecordPath)
	}
	defer func() {
		if err := manager.StopRecording(); err != nil {
			log.ErrorLog.Printf("error finalizing recording: %v", err)
		}
	}()

	var out sink = nopSink{}
	if cfg.JSON {
		out = &jsonSink{w: bufio.NewWriter(stdout)}
	}

	// One context races the three suspension points: next frame, termination
	// signal, session completion. NextFrame resolves whichever fires first.
	loopCtx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	for {
		f, ok := sess.NextFrame(loopCtx)
		if !ok {
			if loopCtx.Err() != nil {
				log.InfoLog.Printf("received termination signal, shutting down")
			} else {
				log.InfoLog.Printf("frame stream ended")
			}
			break
		}
		emitAll(proc.ProcessFrame(f), manager, out)
	}

	// Drain the processor so a trailing partial line is not lost.
	emitAll(proc.Flush(), manager, out)
	return nil
}

// emitAll records and emits one processed batch, strictly in order. Recording
// and emission errors are localized: log and continue.
func emitAll(frames []frame.Frame, manager *recorder.Manager, out sink) {
	for _, f := range frames {
		if err := manager.RecordFrame(f); err != nil {
			log.WarningLog.Printf("recording disabled: %v", err)
		}
		if err := out.Emit(f); err != nil {
			log.ErrorLog.Printf("error emitting frame: %v", err)
		}
	}
}
