package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"spectty/config"
	"spectty/frame"
	"spectty/log"

	"github.com/google/uuid"
)

var (
	// ErrSpawn marks a failure to create the PTY or launch the child.
	ErrSpawn = errors.New("spawn failed")
	// ErrIO marks a write or resize failure against the PTY. The session
	// itself survives; the caller of the failed operation decides what to do.
	ErrIO = errors.New("pty i/o failed")
)

const (
	// readChunkSize is the fixed size of blocking PTY reads.
	readChunkSize = 8192
	// pollInterval paces the liveness and back-pressure checks.
	pollInterval = 100 * time.Millisecond
	// frameChannelSize bounds the frame queue in frames; the byte budget in
	// the config bounds it in payload bytes, which is what overflow
	// escalation is keyed on.
	frameChannelSize = 1024
)

// Session owns one pseudo-terminal and the child process attached to it. A
// dedicated goroutine bridges blocking PTY reads into the frame channel;
// idle detection and liveness polling run alongside and feed the same
// channel. The channel has exactly one consumer, reached via NextFrame.
type Session struct {
	ID string

	handle        ExecHandle
	idleTimeout   time.Duration
	bufferBudget  int64
	overflowGrace time.Duration

	frames  chan frame.Frame
	done    chan struct{}
	backlog atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	lastActivity time.Time
	idleFired    bool
	finished     bool
}

// New opens a PTY at the configured size and spawns the configured command
// on it (via capsule-run when delegation is enabled). The returned session is
// alive and its frame stream is open.
func New(cfg *config.Config) (*Session, error) {
	argv := cfg.Argv()
	handle, err := startCommand(argv, cfg.Cols, cfg.Rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSpawn, argv[0], err)
	}
	return NewWithHandle(cfg, handle), nil
}

// NewWithHandle builds a session around an already-running exec handle.
// Production code goes through New; tests substitute a scripted handle.
func NewWithHandle(cfg *config.Config, handle ExecHandle) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:            uuid.NewString(),
		handle:        handle,
		idleTimeout:   cfg.IdleTimeout(),
		bufferBudget:  cfg.BufferBytes,
		overflowGrace: cfg.OverflowGrace(),
		frames:        make(chan frame.Frame, frameChannelSize),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		lastActivity:  time.Now(),
	}

	log.InfoLog.Printf("session %s started: %s", s.ID, strings.Join(cfg.Argv(), " "))

	go s.readLoop()
	go s.idleLoop()
	go s.superviseLoop()
	return s
}

// NextFrame delivers the next frame in arrival order. It returns false when
// ctx is cancelled or when the session has finished and the queue is fully
// drained. It must only be called from a single consumer.
func (s *Session) NextFrame(ctx context.Context) (frame.Frame, bool) {
	select {
	case f := <-s.frames:
		return s.deliver(f), true
	default:
	}

	select {
	case f := <-s.frames:
		return s.deliver(f), true
	case <-ctx.Done():
		return frame.Frame{}, false
	case <-s.done:
		// The session finished while we were waiting; hand out whatever is
		// still queued before reporting end of stream.
		select {
		case f := <-s.frames:
			return s.deliver(f), true
		default:
			return frame.Frame{}, false
		}
	}
}

func (s *Session) deliver(f frame.Frame) frame.Frame {
	s.backlog.Add(int64(-f.PayloadLen()))
	return f
}

// Done is closed once the session stops producing frames, either because the
// child exited or because Close was called. Queued frames may still be
// pending delivery at that point.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// WriteInput writes p verbatim to the PTY master and mirrors it as a stdin
// frame. The write counts as activity for idle detection.
func (s *Session) WriteInput(p []byte) error {
	if _, err := s.handle.Write(p); err != nil {
		return fmt.Errorf("%w: write input: %v", ErrIO, err)
	}
	s.markActivity()
	s.emit(frame.New(frame.Stdin).WithData(lossyString(p)))
	return nil
}

// Resize propagates a new geometry to the OS PTY and emits a resize frame.
// Consumers that confirm redraw answer with resize_ack; the session itself
// never waits for one.
func (s *Session) Resize(cols, rows uint16) error {
	if err := s.handle.Resize(cols, rows); err != nil {
		return fmt.Errorf("%w: resize: %v", ErrIO, err)
	}
	s.markActivity()
	s.emit(frame.New(frame.Resize).WithSize(cols, rows))
	return nil
}

// IsAlive reports whether the child has not yet been observed to exit.
func (s *Session) IsAlive() bool {
	_, exited := s.handle.ExitStatus()
	return !exited
}

// Close stops all session goroutines, kills the child if it is still
// running, and releases the PTY. An in-flight blocking read may be abandoned;
// that is acceptable only because the process is exiting anyway.
func (s *Session) Close() error {
	s.finish()
	s.cancel()

	var errs []error
	if _, exited := s.handle.ExitStatus(); !exited {
		if err := s.handle.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("error terminating child: %w", err))
		}
	}
	if err := s.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing PTY: %w", err))
	}

	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	errMsg := "multiple errors occurred during cleanup:"
	for _, err := range errs {
		errMsg += "\n  - " + err.Error()
	}
	return errors.New(errMsg)
}

// readLoop performs blocking reads from the PTY on a dedicated goroutine and
// emits one stdout frame per chunk. EOF or a read error stops only this
// loop; exit detection still runs.
func (s *Session) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.handle.Read(buf)
		if n > 0 {
			s.markActivity()
			s.emit(frame.New(frame.Stdout).WithData(lossyString(buf[:n])))
		}
		if err != nil {
			if err != io.EOF {
				log.WarningLog.Printf("session %s: pty read: %v", s.ID, err)
			}
			return
		}
		if n == 0 {
			// Zero-byte read without error: the output stream is closed.
			return
		}
	}
}

// idleLoop emits one idle frame each time the elapsed time since the latest
// activity crosses the idle timeout, then stays quiet until activity re-arms
// it. The sleep is always computed relative to the latest activity timestamp
// so interleaved activity neither misses nor double-fires idle periods.
func (s *Session) idleLoop() {
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		elapsed := time.Since(s.lastActivity)
		fire := elapsed >= s.idleTimeout && !s.idleFired
		if fire {
			s.idleFired = true
		}
		next := s.idleTimeout - elapsed
		if next <= 0 {
			next = s.idleTimeout
		}
		s.mu.Unlock()

		if fire {
			s.emit(frame.New(frame.Idle).WithDuration(uint64(elapsed.Milliseconds())))
		}
		timer.Reset(next)
	}
}

// superviseLoop polls the child's exit status and enforces the back-pressure
// contract. Backlog over budget raises a single overflow frame; if the
// consumer has not drained below budget when the grace period ends, the
// child is killed and a capsule_kill frame reports why.
//
// This loop must never block on the frame channel: a saturated queue is
// exactly the condition it escalates on. Control frames (overflow,
// capsule_kill, exit, signal) are sent non-blockingly and retried every tick
// until the consumer makes room; the kill itself never waits on a send.
func (s *Session) superviseLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var pending []frame.Frame
	var overflowSince time.Time
	killed := false
	ended := false

	queue := func(f frame.Frame) {
		if !s.tryEmit(f) {
			pending = append(pending, f)
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		// Retry undelivered control frames first so ordering holds.
		for len(pending) > 0 && s.tryEmit(pending[0]) {
			pending = pending[1:]
		}

		if ended {
			// The exit or signal frame is still queued; keep retrying until
			// the consumer has taken it, then stop producing.
			if len(pending) == 0 {
				s.finish()
				s.cancel()
				return
			}
			continue
		}

		if !killed {
			backlog := s.backlog.Load()
			switch {
			case backlog <= s.bufferBudget:
				overflowSince = time.Time{}
			case overflowSince.IsZero():
				overflowSince = time.Now()
				log.WarningLog.Printf("session %s: frame backlog %d bytes over budget %d", s.ID, backlog, s.bufferBudget)
				queue(frame.New(frame.Overflow).
					WithReason(fmt.Sprintf("frame backlog %d bytes exceeds budget of %d bytes", backlog, s.bufferBudget)))
			case time.Since(overflowSince) >= s.overflowGrace:
				killed = true
				log.ErrorLog.Printf("session %s: consumer stalled, killing child", s.ID)
				if err := s.handle.Terminate(); err != nil {
					log.ErrorLog.Printf("session %s: kill child: %v", s.ID, err)
				}
				queue(frame.New(frame.CapsuleKill).
					WithReason("frame backlog not drained within overflow grace period"))
			}
		}

		if st, exited := s.handle.ExitStatus(); exited {
			ended = true
			if st.Signal != "" {
				log.InfoLog.Printf("session %s: child terminated by %s", s.ID, st.Signal)
				queue(frame.New(frame.Signal).WithSignal(st.Signal))
			} else {
				log.InfoLog.Printf("session %s: child exited with code %d", s.ID, st.Code)
				queue(frame.New(frame.Exit).WithExitCode(st.Code))
			}
			if len(pending) == 0 {
				s.finish()
				s.cancel()
				return
			}
		}
	}
}

// emit enqueues a frame and charges its payload against the backlog budget.
// Frames emitted after shutdown are dropped.
func (s *Session) emit(f frame.Frame) {
	s.backlog.Add(int64(f.PayloadLen()))
	select {
	case s.frames <- f:
	case <-s.ctx.Done():
		s.backlog.Add(int64(-f.PayloadLen()))
	}
}

// tryEmit enqueues a frame only if the channel has room, reporting whether it
// was accepted. The supervisor uses it so escalation on a saturated queue can
// never be blocked by that same queue.
func (s *Session) tryEmit(f frame.Frame) bool {
	select {
	case s.frames <- f:
		s.backlog.Add(int64(f.PayloadLen()))
		return true
	default:
		return false
	}
}

func (s *Session) markActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.idleFired = false
	s.mu.Unlock()
}

func (s *Session) finish() {
	s.mu.Lock()
	if !s.finished {
		s.finished = true
		close(s.done)
	}
	s.mu.Unlock()
}

// lossyString decodes bytes as UTF-8, replacing invalid sequences instead of
// failing. PTY chunks can split multi-byte runes; the replacement rune is the
// accepted cost of chunked decoding.
func lossyString(p []byte) string {
	return strings.ToValidUTF8(string(p), "�")
}
