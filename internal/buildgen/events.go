package buildgen

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/floegence/appforge/internal/ai"
)

type EventType string

const (
	EventStart        EventType = "start"
	EventThinking     EventType = "thinking"
	EventFileStart    EventType = "file_start"
	EventFileProgress EventType = "file_progress"
	EventFileComplete EventType = "file_complete"
	EventValidation   EventType = "validation"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is one progress notification. Exactly one payload field is set, matching Type.
type Event struct {
	Type    EventType `json:"type"`
	BuildID string    `json:"build_id,omitempty"`

	Start      *StartEvent      `json:"start,omitempty"`
	Thinking   *ThinkingEvent   `json:"thinking,omitempty"`
	File       *FileEvent       `json:"file,omitempty"`
	Progress   *ProgressEvent   `json:"progress,omitempty"`
	Validation *ValidationEvent `json:"validation,omitempty"`
	Complete   *CompleteEvent   `json:"complete,omitempty"`
	Error      *ErrorEvent      `json:"error,omitempty"`
}

type StartEvent struct {
	Phase       *Phase      `json:"phase,omitempty"`
	Attempt     int         `json:"attempt"`
	MaxAttempts int         `json:"max_attempts"`
	Budget      TokenBudget `json:"budget"`
	Model       string      `json:"model,omitempty"`
}

type ThinkingEvent struct {
	Text       string `json:"text,omitempty"`
	TotalChars int    `json:"total_chars"`
}

// FileEvent carries file_start and file_complete.
type FileEvent struct {
	Path  string `json:"path"`
	Index int    `json:"index"`
}

type ProgressEvent struct {
	Path       string `json:"path"`
	ChunkSize  int    `json:"chunk_size"`
	TotalChars int    `json:"total_chars"`
}

type ValidationEvent struct {
	FilesValidated int `json:"files_validated"`
	TotalFiles     int `json:"total_files"`
	ErrorsFound    int `json:"errors_found"`
	AutoFixed      int `json:"auto_fixed"`
}

type CompleteEvent struct {
	Files        []GeneratedFile   `json:"files"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Truncation   *TruncationInfo   `json:"truncation,omitempty"`
	Usage        ai.TurnUsage      `json:"usage"`
	Attempts     int               `json:"attempts"`
}

// ErrorEvent is the failing terminal event. Recoverable is set when a later resubmission may clear the failure.
type ErrorEvent struct {
	Message     string `json:"message"`
	Code        string `json:"code"`
	Recoverable bool   `json:"recoverable"`
}

func (e Event) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// EventSink receives pipeline events in program order. Implementations must not block for long.
type EventSink interface {
	Emit(Event)
}

type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(ev Event) {
	if f != nil {
		f(ev)
	}
}

// NDJSONSink writes one JSON object per line, flushing after each event when the writer supports it.
type NDJSONSink struct {
	mu  sync.Mutex
	w   io.Writer
	f   http.Flusher
	err error
}

func NewNDJSONSink(w io.Writer) *NDJSONSink {
	var f http.Flusher
	if fl, ok := w.(http.Flusher); ok {
		f = fl
	}
	return &NDJSONSink{w: w, f: f}
}

func (s *NDJSONSink) Emit(ev Event) {
	if s == nil {
		return
	}
	_ = s.send(ev)
}

func (s *NDJSONSink) send(v any) error {
	if s.w == nil {
		return errors.New("stream not ready")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := s.w.Write(b); err != nil {
		s.err = err
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// Err returns the first write error, if any.
func (s *NDJSONSink) Err() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// terminalGuard stamps the build id and drops everything after the first terminal event.
type terminalGuard struct {
	mu      sync.Mutex
	sink    EventSink
	buildID string
	done    bool
}

func (g *terminalGuard) Emit(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	if ev.IsTerminal() {
		g.done = true
	}
	ev.BuildID = g.buildID
	if g.sink != nil {
		g.sink.Emit(ev)
	}
}
