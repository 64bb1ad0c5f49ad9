package buildgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultProgressInterval = 500 * time.Millisecond

// ErrStreamTimeout is returned by the consumer once the wall-clock budget for a response has elapsed.
var ErrStreamTimeout = errors.New("generation timed out")

type streamConsumerOptions struct {
	Emit             func(Event)
	Now              func() time.Time
	Deadline         time.Time
	ProgressInterval time.Duration
	// IndexBase offsets file indices so sub-requests of a split phase keep counting.
	IndexBase int
}

// streamConsumer turns text fragments into file events while the response is still streaming.
//
// The buffer is append-only. Each fragment triggers one regexp scan over a trailing window that starts
// markerOverlap bytes before the previous cursor, so markers split across fragments are found exactly once
// and total scan work stays linear in the response size.
type streamConsumer struct {
	ctx  context.Context
	opts streamConsumerOptions

	buf       strings.Builder
	scanned   int
	openPath  string
	openIndex int
	ended     bool
	// indices maps each path seen so far to its event index; a repeated path reuses its index.
	indices map[string]int

	lastProgress time.Time
	stopped      bool
	err          error
}

func newStreamConsumer(ctx context.Context, opts streamConsumerOptions) *streamConsumer {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.Emit == nil {
		opts.Emit = func(Event) {}
	}
	return &streamConsumer{ctx: ctx, opts: opts, indices: make(map[string]int)}
}

// Feed consumes one fragment. A non-nil error means the consumer stopped and the provider call must be aborted.
func (c *streamConsumer) Feed(fragment string) error {
	if c.stopped {
		return c.err
	}
	if err := c.ctx.Err(); err != nil {
		c.stop(err)
		return err
	}
	now := c.opts.Now()
	if !c.opts.Deadline.IsZero() && now.After(c.opts.Deadline) {
		c.stop(fmt.Errorf("%w: no complete response before the deadline (%d chars received)", ErrStreamTimeout, c.buf.Len()))
		return c.err
	}
	if fragment == "" {
		return nil
	}

	c.buf.WriteString(fragment)
	text := c.buf.String()
	if !c.ended {
		from := max(0, c.scanned-markerOverlap)
		for _, loc := range markerRE.FindAllStringSubmatchIndex(text[from:], -1) {
			for i := range loc {
				if loc[i] >= 0 {
					loc[i] += from
				}
			}
			if loc[1] <= c.scanned {
				continue
			}
			c.handleMarker(markerAt(text, loc))
			if c.ended {
				break
			}
		}
	}
	c.scanned = len(text)

	if c.openPath != "" && (c.lastProgress.IsZero() || now.Sub(c.lastProgress) >= c.opts.ProgressInterval) {
		c.lastProgress = now
		c.opts.Emit(Event{Type: EventFileProgress, Progress: &ProgressEvent{
			Path:       c.openPath,
			ChunkSize:  len(fragment),
			TotalChars: len(text),
		}})
	}
	return nil
}

func (c *streamConsumer) handleMarker(m marker) {
	if m.kind == markerKindSection {
		c.closeOpenFile()
		if m.section == "END" {
			c.ended = true
		}
		return
	}
	p, err := NormalizeFilePath(m.path)
	if err != nil {
		p = m.path
	}
	if p == c.openPath {
		return
	}
	c.closeOpenFile()
	idx, seen := c.indices[p]
	if !seen {
		idx = c.opts.IndexBase + len(c.indices)
		c.indices[p] = idx
	}
	c.openPath = p
	c.openIndex = idx
	c.opts.Emit(Event{Type: EventFileStart, File: &FileEvent{Path: p, Index: c.openIndex}})
}

func (c *streamConsumer) closeOpenFile() {
	if c.openPath == "" {
		return
	}
	c.opts.Emit(Event{Type: EventFileComplete, File: &FileEvent{Path: c.openPath, Index: c.openIndex}})
	c.openPath = ""
}

// Finish closes the file still open at stream end. It emits nothing once the consumer has been stopped.
func (c *streamConsumer) Finish() {
	if c.stopped {
		return
	}
	c.closeOpenFile()
	c.stopped = true
}

func (c *streamConsumer) stop(err error) {
	c.stopped = true
	c.err = err
}

func (c *streamConsumer) Err() error {
	return c.err
}

func (c *streamConsumer) Text() string {
	return c.buf.String()
}
