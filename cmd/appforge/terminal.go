package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/floegence/appforge/internal/buildgen"
)

// ANSI color codes for terminal styling.
const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiRed   = "\033[91m"
	ansiGreen = "\033[92m"
)

// progressRenderer prints a human-readable view of pipeline events. Thinking and per-chunk
// progress are folded into a single status line that is rewritten in place.
type progressRenderer struct {
	mu     sync.Mutex
	w      io.Writer
	ansi   bool
	width  int
	status bool
}

func newProgressRenderer(w io.Writer) *progressRenderer {
	return &progressRenderer{w: w, ansi: isTerminalWriter(w), width: terminalWidth(w)}
}

func (r *progressRenderer) Emit(ev buildgen.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case buildgen.EventStart:
		s := ev.Start
		label := "build"
		if s.Phase != nil {
			label = fmt.Sprintf("phase %g %s", s.Phase.Number, s.Phase.Name)
		}
		r.line(fmt.Sprintf("%s %s(attempt %d/%d, max_tokens %d)%s",
			r.style(ansiBold, label), r.code(ansiDim), s.Attempt, s.MaxAttempts, s.Budget.MaxTokens, r.code(ansiReset)))
	case buildgen.EventThinking:
		r.statusLine(fmt.Sprintf("thinking... %d chars", ev.Thinking.TotalChars))
	case buildgen.EventFileProgress:
		r.statusLine(fmt.Sprintf("writing %s (%d chars)", ev.Progress.Path, ev.Progress.TotalChars))
	case buildgen.EventFileComplete:
		r.line("  " + r.style(ansiGreen, "+") + " " + ev.File.Path)
	case buildgen.EventValidation:
		v := ev.Validation
		r.line(fmt.Sprintf("  validated %d/%d files, %d errors, %d auto-fixed", v.FilesValidated, v.TotalFiles, v.ErrorsFound, v.AutoFixed))
	case buildgen.EventComplete:
		c := ev.Complete
		msg := fmt.Sprintf("done: %d files in %d attempt(s)", len(c.Files), c.Attempts)
		if c.Truncation != nil && c.Truncation.IsTruncated {
			msg += ", salvaged after truncation"
		}
		r.line(r.style(ansiGreen, msg))
		for _, w := range c.Warnings {
			r.line("  warning: " + w)
		}
	case buildgen.EventError:
		r.line(r.style(ansiRed, fmt.Sprintf("failed (%s): %s", ev.Error.Code, ev.Error.Message)))
	}
}

func (r *progressRenderer) line(text string) {
	r.clearStatus()
	fmt.Fprintln(r.w, text)
}

func (r *progressRenderer) statusLine(text string) {
	if !r.ansi {
		return
	}
	if r.width > 1 {
		if rs := []rune(text); len(rs) >= r.width {
			text = string(rs[:r.width-1])
		}
	}
	fmt.Fprintf(r.w, "\r\033[K%s%s%s", ansiDim, text, ansiReset)
	r.status = true
}

func (r *progressRenderer) clearStatus() {
	if r.status {
		fmt.Fprint(r.w, "\r\033[K")
		r.status = false
	}
}

func (r *progressRenderer) code(c string) string {
	if !r.ansi {
		return ""
	}
	return c
}

func (r *progressRenderer) style(c string, text string) string {
	if !r.ansi {
		return text
	}
	return c + text + ansiReset
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}

