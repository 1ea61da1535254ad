package app

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spectty/config"
	"spectty/frame"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func e2eConfig(args ...string) *config.Config {
	return &config.Config{
		JSON:            true,
		Cols:            80,
		Rows:            24,
		IdleMs:          60000,
		TokenMode:       config.ModeRaw,
		BufferBytes:     8 << 20,
		OverflowGraceMs: 5000,
		Compress:        "none",
		Command:         "/bin/sh",
		Args:            append([]string{"-c"}, args...),
	}
}

func runAndDecode(t *testing.T, cfg *config.Config) []frame.Frame {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &buf))

	var frames []frame.Frame
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		f, err := frame.Decode(scanner.Text())
		require.NoError(t, err, "sink must emit valid frame JSON: %s", scanner.Text())
		frames = append(frames, f)
	}
	require.NoError(t, scanner.Err())
	return frames
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := e2eConfig("true")
	cfg.IdleMs = 0
	err := run(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestEndToEndHelloExitZero(t *testing.T) {
	frames := runAndDecode(t, e2eConfig("printf 'Hello\\n'"))
	require.NotEmpty(t, frames)

	var output strings.Builder
	sawExit := false
	for _, f := range frames {
		switch f.Type {
		case frame.Stdout:
			output.WriteString(f.DataString())
		case frame.Exit:
			sawExit = true
			require.NotNil(t, f.Code)
			assert.Equal(t, 0, *f.Code)
		}
	}
	assert.True(t, sawExit, "expected an exit frame")
	assert.Contains(t, output.String(), "Hello")
}

func TestEndToEndExitCodePropagates(t *testing.T) {
	frames := runAndDecode(t, e2eConfig("exit 3"))

	var exit *frame.Frame
	for i := range frames {
		if frames[i].Type == frame.Exit {
			exit = &frames[i]
		}
	}
	require.NotNil(t, exit, "expected an exit frame")
	require.NotNil(t, exit.Code)
	assert.Equal(t, 3, *exit.Code)
}

func TestEndToEndIdleBeforeOutput(t *testing.T) {
	cfg := e2eConfig("sleep 1; echo late")
	cfg.IdleMs = 150

	frames := runAndDecode(t, cfg)

	firstIdle, firstStdout := -1, -1
	for i, f := range frames {
		if f.Type == frame.Idle && firstIdle == -1 {
			firstIdle = i
			assert.GreaterOrEqual(t, f.DurMs, uint64(150))
		}
		if f.Type == frame.Stdout && firstStdout == -1 {
			firstStdout = i
		}
	}
	require.NotEqual(t, -1, firstIdle, "expected an idle frame during the quiet second")
	if firstStdout != -1 {
		assert.Less(t, firstIdle, firstStdout, "idle must precede any output")
	}
}

func TestEndToEndRecording(t *testing.T) {
	castPath := filepath.Join(t.TempDir(), "hello.cast")
	cfg := e2eConfig("printf 'Hello\\n'")
	cfg.RecordPath = castPath

	runAndDecode(t, cfg)

	data, err := os.ReadFile(castPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 2, "expected header plus at least one event")
	assert.Contains(t, lines[0], `"version":2`)
	assert.Contains(t, strings.Join(lines[1:], "\n"), `"o"`)
}

func TestEndToEndCompactMode(t *testing.T) {
	cfg := e2eConfig("printf 'chunk one\\nchunk two\\n'")
	cfg.TokenMode = config.ModeCompact

	frames := runAndDecode(t, cfg)

	var output strings.Builder
	for _, f := range frames {
		if f.Type == frame.Stdout || f.Type == frame.LineUpdate {
			output.WriteString(f.DataString())
		}
	}
	assert.Contains(t, output.String(), "chunk one")
	assert.Contains(t, output.String(), "chunk two")
}
