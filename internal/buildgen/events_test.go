package buildgen

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestNDJSONSink_WritesOneObjectPerLine(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sink := NewNDJSONSink(rec)
	sink.Emit(Event{Type: EventFileStart, File: &FileEvent{Path: "a.js", Index: 0}})
	sink.Emit(Event{Type: EventError, Error: &ErrorEvent{Message: "boom", Code: "timeout"}})
	if err := sink.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if !rec.Flushed {
		t.Fatalf("sink did not flush")
	}

	sc := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	var got []Event
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].File.Path != "a.js" || got[1].Error.Code != "timeout" {
		t.Fatalf("events=%+v", got)
	}
}

type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("broken pipe")
}

func TestNDJSONSink_RemembersFirstError(t *testing.T) {
	t.Parallel()

	w := &failingWriter{}
	sink := NewNDJSONSink(w)
	sink.Emit(Event{Type: EventStart})
	sink.Emit(Event{Type: EventStart})
	if sink.Err() == nil {
		t.Fatalf("Err()=nil after a failed write")
	}
	if w.n != 1 {
		t.Fatalf("writes=%d, want 1", w.n)
	}
}

func TestTerminalGuard_DropsEventsAfterTerminal(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	g := &terminalGuard{sink: MultiSink{log, nil}, buildID: "b1"}
	g.Emit(Event{Type: EventStart})
	g.Emit(Event{Type: EventComplete, Complete: &CompleteEvent{}})
	g.Emit(Event{Type: EventError, Error: &ErrorEvent{Message: "late"}})
	g.Emit(Event{Type: EventFileStart, File: &FileEvent{Path: "late.js"}})

	events := log.all()
	if len(events) != 2 || events[1].Type != EventComplete {
		t.Fatalf("events=%+v", events)
	}
	for _, ev := range events {
		if ev.BuildID != "b1" {
			t.Fatalf("build id=%q", ev.BuildID)
		}
	}
}
