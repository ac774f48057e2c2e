package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type EventType string

const (
	EventTypeScanned     EventType = "scanned"
	EventTypeForwarded   EventType = "forwarded"
	EventTypeFiltered    EventType = "filtered"
	EventTypeSeen        EventType = "seen"
	EventTypeParseError  EventType = "parse_error"
	EventTypeDecodeError EventType = "decode_error"
	EventTypeNotifyError EventType = "notify_error"
	EventTypeSeenError   EventType = "seen_error"
)

// Event is emitted once per message and outcome.
type Event struct {
	Mailbox   string
	Type      EventType
	MessageID uint32
	Err       error
	Detail    string
}

// Sink receives events. Implementations must be safe to call from the
// single goroutine running a poll cycle.
type Sink interface {
	Emit(Event)
}

type Summary struct {
	Scanned      int
	Forwarded    int
	Filtered     int
	Seen         int
	ParseErrors  int
	DecodeErrors int
	NotifyErrors int
	SeenErrors   int
	LastError    error
}

// Errors is the number of failures of any kind.
func (s Summary) Errors() int {
	return s.ParseErrors + s.DecodeErrors + s.NotifyErrors + s.SeenErrors
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"forwarded", s.Forwarded,
		"filtered", s.Filtered,
		"seen", s.Seen,
		"parseErrors", s.ParseErrors,
		"decodeErrors", s.DecodeErrors,
		"notifyErrors", s.NotifyErrors,
		"seenErrors", s.SeenErrors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector counts events of one poll cycle.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeForwarded:
		c.summary.Forwarded++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeSeen:
		c.summary.Seen++
	case EventTypeParseError:
		c.summary.ParseErrors++
	case EventTypeDecodeError:
		c.summary.DecodeErrors++
	case EventTypeNotifyError:
		c.summary.NotifyErrors++
	case EventTypeSeenError:
		c.summary.SeenErrors++
	}
	if evt.Err != nil {
		c.summary.LastError = evt.Err
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Multi fans an event out to several sinks; nil sinks are skipped.
type Multi []Sink

func (m Multi) Emit(evt Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(evt)
		}
	}
}

// Reporter logs the summary of a cycle when it ends.
type Reporter struct {
	*Collector
	logger  *slog.Logger
	started time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reporter{
		Collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

// Finish logs the summary; err is the error that ended the cycle, if any.
func (r *Reporter) Finish(err error) Summary {
	summary := r.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if err != nil {
		r.logger.Warn("poll cycle aborted", append(attrs, "err", err)...)
		return summary
	}
	r.logger.Info("poll cycle finished", attrs...)
	return summary
}

// PrintTop writes the limit most frequent keys of m to w.
func PrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
