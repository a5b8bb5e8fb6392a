// Package report provides sinks for the progress lines and outcomes a batch
// emits. Every reporter here is safe to call from the batch worker without
// blocking it.
package report

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xhad/danfe/internal/models"
	"github.com/xhad/danfe/internal/types"
)

// Event is either a progress line or a finished outcome.
type Event struct {
	Line    string
	Outcome *models.Outcome
}

// Channel buffers events for a consumer on another goroutine, in the order
// they were reported. When the buffer is full new events are dropped and
// counted rather than blocking the batch.
type Channel struct {
	events  chan Event
	dropped atomic.Int64
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 256
	}
	return &Channel{events: make(chan Event, size)}
}

func (c *Channel) Report(line string) {
	c.send(Event{Line: line})
}

func (c *Channel) Outcome(o models.Outcome) {
	c.send(Event{Outcome: &o})
}

func (c *Channel) send(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Events is drained by the consumer until Close is called.
func (c *Channel) Events() <-chan Event { return c.events }

// Dropped returns how many events were discarded.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

func (c *Channel) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()
	})
}

// Log writes every line to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Report(line string) {
	l.Logger.Info(strings.TrimSpace(line))
}

func (l Log) Outcome(o models.Outcome) {
	l.Logger.Info("outcome",
		slog.String("key", o.Key.String()),
		slog.String("status", string(o.Status)),
		slog.Int("attempts", o.Attempts),
		slog.Bool("primary", o.HasPrimary()),
		slog.Bool("secondary", o.HasSecondary()),
	)
}

// Multi fans out to several reporters. Outcomes only reach the reporters
// that accept them.
type Multi []types.Reporter

func (m Multi) Report(line string) {
	for _, r := range m {
		r.Report(line)
	}
}

func (m Multi) Outcome(o models.Outcome) {
	for _, r := range m {
		if receiver, ok := r.(types.OutcomeReporter); ok {
			receiver.Outcome(o)
		}
	}
}

// Recorder keeps everything in memory.
type Recorder struct {
	mu       sync.Mutex
	lines    []string
	outcomes []models.Outcome
}

func (r *Recorder) Report(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *Recorder) Outcome(o models.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *Recorder) Outcomes() []models.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Outcome(nil), r.outcomes...)
}
