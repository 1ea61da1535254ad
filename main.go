package main

import (
	"fmt"
	"os"

	"spectty/app"
	"spectty/config"
	"spectty/log"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:          "spectty [flags] -- command [args...]",
		Short:        "Run a program on a pseudo-terminal and stream it as structured frames",
		Long:         "spectty wraps an interactive program in a PTY and emits its behavior as a sequential frame stream for automated clients, with optional asciinema recording.",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Command = args[0]
			cfg.Args = args[1:]
			applyTerminalDefaults(cmd, cfg)

			log.Initialize(cfg.Verbose)
			defer log.Close()

			return app.Run(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&cfg.JSON, "json", false, "emit frames as JSON lines on stdout")
	flags.StringVar(&cfg.SocketPath, "socket", "", "unix socket transport (accepted, not yet served)")
	flags.StringVar(&cfg.BindAddr, "bind", "", "TCP transport HOST:PORT (accepted, not yet served)")
	flags.Uint16Var(&cfg.Cols, "cols", 120, "initial window columns")
	flags.Uint16Var(&cfg.Rows, "rows", 40, "initial window rows")
	flags.Uint64Var(&cfg.IdleMs, "idle", 200, "idle duration before an idle frame (ms)")
	flags.StringVar(&cfg.TokenMode, "token-mode", config.ModeRaw, "token processing mode (raw, compact, parsed)")
	flags.StringArrayVar(&cfg.PromptPatterns, "prompt-regex", nil, "register a prompt matcher (repeatable)")
	flags.Int64Var(&cfg.BufferBytes, "buffer", 8<<20, "max buffered frame bytes before back-pressure")
	flags.Uint64Var(&cfg.OverflowGraceMs, "overflow-timeout", 5000, "grace before the child is killed on overflow (ms)")
	flags.StringVar(&cfg.RecordPath, "record", "", "asciinema v2 output file")
	flags.BoolVar(&cfg.Capsule, "capsule", false, "run the target via capsule-run")
	flags.StringVar(&cfg.SandboxProfile, "sandbox-profile", "", "capsule-run sandbox profile")
	flags.StringVar(&cfg.StateDir, "state-dir", "", "session state directory (reserved)")
	flags.StringVar(&cfg.Compress, "compress", "none", "frame payload compression (none)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "verbose logging to stderr")

	return rootCmd
}

// applyTerminalDefaults sizes the PTY to the caller's terminal when no
// explicit geometry was given and stdout is actually a terminal.
func applyTerminalDefaults(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("cols") || cmd.Flags().Changed("rows") {
		return
	}
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w < 1 || h < 1 {
		return
	}
	cfg.Cols, cfg.Rows = uint16(w), uint16(h)
}
