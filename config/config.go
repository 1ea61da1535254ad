package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrConfig marks a startup configuration failure. Nothing is spawned when
// validation fails; the process reports the error and exits non-zero.
var ErrConfig = errors.New("invalid configuration")

// Token processing modes for the output processor.
const (
	ModeRaw     = "raw"
	ModeCompact = "compact"
	ModeParsed  = "parsed"
)

// Config carries one validated invocation: the target command, the PTY
// geometry, the processing mode, and the back-pressure/recording knobs. It is
// populated by the CLI flags and must pass Validate before a session starts.
type Config struct {
	// JSON emits one JSON frame per line on stdout. Without it the frame
	// stream is produced but not emitted locally.
	JSON bool

	// SocketPath and BindAddr select a remote transport. Both are accepted
	// and validated but only local emission is currently served.
	SocketPath string
	BindAddr   string

	Cols uint16
	Rows uint16

	// IdleMs is the inactivity span after which a single idle frame fires.
	IdleMs uint64

	TokenMode      string
	PromptPatterns []string

	// BufferBytes is the undelivered frame payload budget before the session
	// reports overflow. OverflowGraceMs is how long the consumer has to drain
	// the backlog before the child is killed.
	BufferBytes     int64
	OverflowGraceMs uint64

	RecordPath string

	// Capsule delegates execution to the external capsule-run wrapper,
	// optionally with a sandbox profile.
	Capsule        bool
	SandboxProfile string

	// StateDir enables session resurrection. Declared for forward
	// compatibility; no behavior is attached yet.
	StateDir string

	Compress string
	Verbose  bool

	Command string
	Args    []string

	promptRegexps []*regexp.Regexp
}

// Validate checks the configuration and compiles the prompt patterns. Any
// violation is fatal and wrapped with ErrConfig.
func (c *Config) Validate() error {
	if c.Cols < 1 || c.Rows < 1 {
		return fmt.Errorf("%w: window size must be at least 1x1, got %dx%d", ErrConfig, c.Cols, c.Rows)
	}
	if c.IdleMs == 0 {
		return fmt.Errorf("%w: idle timeout must be greater than 0", ErrConfig)
	}
	if c.BufferBytes <= 0 {
		return fmt.Errorf("%w: buffer size must be greater than 0", ErrConfig)
	}
	switch c.TokenMode {
	case ModeRaw, ModeCompact, ModeParsed:
	default:
		return fmt.Errorf("%w: unknown token mode %q", ErrConfig, c.TokenMode)
	}
	if c.Compress != "" && c.Compress != "none" {
		return fmt.Errorf("%w: unsupported compression mode %q", ErrConfig, c.Compress)
	}
	if c.Command == "" {
		return fmt.Errorf("%w: no command given", ErrConfig)
	}

	c.promptRegexps = c.promptRegexps[:0]
	for _, pattern := range c.PromptPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: invalid prompt regex %q: %v", ErrConfig, pattern, err)
		}
		c.promptRegexps = append(c.promptRegexps, re)
	}
	return nil
}

// PromptRegexps returns the patterns compiled by Validate.
func (c *Config) PromptRegexps() []*regexp.Regexp {
	return c.promptRegexps
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleMs) * time.Millisecond
}

func (c *Config) OverflowGrace() time.Duration {
	return time.Duration(c.OverflowGraceMs) * time.Millisecond
}

// Argv is the effective argument vector to spawn. With Capsule set, the
// target runs under the external capsule-run wrapper instead of directly.
func (c *Config) Argv() []string {
	if !c.Capsule {
		return append([]string{c.Command}, c.Args...)
	}
	argv := []string{"capsule-run"}
	if c.SandboxProfile != "" {
		argv = append(argv, "--profile", c.SandboxProfile)
	}
	argv = append(argv, "--", c.Command)
	return append(argv, c.Args...)
}

// CommandLine renders the target command for logs and the recording header.
func (c *Config) CommandLine() string {
	line := c.Command
	for _, arg := range c.Args {
		line += " " + arg
	}
	return line
}
