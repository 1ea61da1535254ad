// Package processor refines the raw frame stream. The mode is fixed at
// construction: raw passes everything through, compact normalizes and
// coalesces terminal output, parsed adds prompt matching on top of compact.
package processor

import (
	"regexp"
	"strings"
	"unicode"

	"spectty/frame"

	"github.com/muesli/ansi"
)

// Mode selects the transform. Tagged variant, not inheritance; parsed reuses
// compact's transform rather than duplicating the coalescing logic.
type Mode string

const (
	ModeRaw     Mode = "raw"
	ModeCompact Mode = "compact"
	ModeParsed  Mode = "parsed"
)

// lineBufferLimit flushes the coalescing buffer even without a newline.
const lineBufferLimit = 512

// progressRegex detects transient status output: block/spinner glyphs,
// percentages, and bracket-style progress bars.
var progressRegex = regexp.MustCompile(`[\r\n]*[\s]*[▌▍▎▏█░▒▓■□▪▫●○◐◑◒◓◔◕◖◗◘◙◚◛◜◝◞◟◠◡◢◣◤◥◦◧◨◩◪◫◬◭◮◯]+|[0-9]+%|\[[=>\-\s]*\]`)

// progressKeywords are matched case-sensitively anywhere in the cleaned text.
var progressKeywords = []string{"downloading", "installing", "loading", "progress"}

// OutputProcessor is a stateful frame transform. One instance per
// invocation, driven only by ProcessFrame and Flush, never concurrently.
type OutputProcessor struct {
	mode    Mode
	prompts []*regexp.Regexp

	lineBuffer     string
	lastLineUpdate string
	hasLineUpdate  bool
	pending        []frame.Frame
}

// New builds a processor for the given mode. The prompt patterns are only
// consulted in parsed mode.
func New(mode Mode, prompts []*regexp.Regexp) *OutputProcessor {
	return &OutputProcessor{mode: mode, prompts: prompts}
}

// ProcessFrame transforms one input frame into zero or more output frames.
func (p *OutputProcessor) ProcessFrame(f frame.Frame) []frame.Frame {
	switch p.mode {
	case ModeCompact:
		return p.processCompact(f)
	case ModeParsed:
		return p.processParsed(f)
	default:
		return []frame.Frame{f}
	}
}

// Flush drains the pending line buffer as a final stdout frame plus any
// queued frames. Call it before shutdown or a trailing partial line is lost.
func (p *OutputProcessor) Flush() []frame.Frame {
	var frames []frame.Frame
	if p.lineBuffer != "" {
		frames = append(frames, frame.New(frame.Stdout).WithData(p.lineBuffer))
		p.lineBuffer = ""
	}
	frames = append(frames, p.pending...)
	p.pending = nil
	return frames
}

func (p *OutputProcessor) processCompact(f frame.Frame) []frame.Frame {
	switch f.Type {
	case frame.Stdout, frame.Stderr:
	default:
		return []frame.Frame{f}
	}
	if f.Data == nil || f.Binary {
		return []frame.Frame{f}
	}

	cleaned := CleanOutput(*f.Data)

	if isProgressUpdate(*f.Data, cleaned) {
		if p.hasLineUpdate && p.lastLineUpdate == cleaned {
			// Duplicate progress update, drop it.
			return nil
		}
		p.lastLineUpdate = cleaned
		p.hasLineUpdate = true
		out := f
		out.Type = frame.LineUpdate
		return []frame.Frame{out.WithData(cleaned)}
	}

	p.lineBuffer += cleaned
	if strings.Contains(cleaned, "\n") || len(p.lineBuffer) > lineBufferLimit {
		out := f.WithData(p.lineBuffer)
		p.lineBuffer = ""
		return []frame.Frame{out}
	}
	// Keep coalescing; nothing to emit for this fragment yet.
	return nil
}

// processParsed is compact plus a prompt-matching pass over completed lines.
// It adds prompt frames but never withholds or reorders compact's output.
func (p *OutputProcessor) processParsed(f frame.Frame) []frame.Frame {
	frames := p.processCompact(f)
	if len(p.prompts) == 0 {
		return frames
	}

	var out []frame.Frame
	for _, pf := range frames {
		out = append(out, pf)
		if pf.Type != frame.Stdout && pf.Type != frame.Stderr {
			continue
		}
		for _, line := range completedLines(pf.DataString()) {
			for _, re := range p.prompts {
				if re.MatchString(line) {
					out = append(out, frame.New(frame.Prompt).WithData(line).WithRegex(re.String()))
				}
			}
		}
	}
	return out
}

// completedLines returns the newline-terminated lines of data, skipping a
// trailing partial segment.
func completedLines(data string) []string {
	lines := strings.Split(data, "\n")
	if len(lines) == 0 {
		return nil
	}
	return lines[:len(lines)-1]
}

// CleanOutput strips escape sequences, normalizes line endings to \n, and
// trims trailing whitespace per line while preserving indentation.
func CleanOutput(data string) string {
	cleaned := StripANSI(data)
	cleaned = strings.ReplaceAll(cleaned, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")

	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.Join(lines, "\n")
}

// StripANSI removes terminal escape sequences by scanning for the escape
// marker and skipping until the sequence terminator. Stripping is idempotent:
// the output contains no markers.
func StripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if r == ansi.Marker {
			inEscape = true
			continue
		}
		if inEscape {
			if ansi.IsTerminator(r) {
				inEscape = false
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isProgressUpdate classifies output as a transient status line: progress
// glyphs, well-known keywords, or repeated carriage returns. Glyphs and
// keywords are matched against the cleaned text; carriage returns must be
// counted on the raw payload, since normalization has already rewritten them
// away in the cleaned form. Only bare \r counts: \r\n is an ordinary PTY line
// ending, not a line overwrite.
func isProgressUpdate(raw, cleaned string) bool {
	if progressRegex.MatchString(cleaned) {
		return true
	}
	for _, kw := range progressKeywords {
		if strings.Contains(cleaned, kw) {
			return true
		}
	}
	bareCR := strings.Count(raw, "\r") - strings.Count(raw, "\r\n")
	return bareCR > 2
}
