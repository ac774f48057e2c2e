package stats

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")
	for _, typ := range []EventType{
		EventTypeScanned, EventTypeScanned, EventTypeScanned,
		EventTypeForwarded, EventTypeFiltered,
		EventTypeSeen, EventTypeSeen,
	} {
		c.Emit(Event{Mailbox: "Inbox", Type: typ})
	}
	c.Emit(Event{Mailbox: "Inbox", Type: EventTypeNotifyError, Err: boom})

	got := c.Snapshot()
	want := Summary{Scanned: 3, Forwarded: 1, Filtered: 1, Seen: 2, NotifyErrors: 1, LastError: boom}
	if diff := cmp.Diff(want, got, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
	if got.Errors() != 1 {
		t.Errorf("Errors() = %d, want 1", got.Errors())
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	sink := Multi{m, nil, NewCollector()}
	sink.Emit(Event{Mailbox: "Inbox", Type: EventTypeForwarded})
	sink.Emit(Event{Mailbox: "Inbox", Type: EventTypeForwarded})
	sink.Emit(Event{Mailbox: "Archive", Type: EventTypeFiltered})
	m.Cycle(nil)
	m.Cycle(errors.New("dial"))

	if got := testutil.ToFloat64(m.messages.WithLabelValues("Inbox", "forwarded")); got != 2 {
		t.Errorf("Inbox forwarded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues("Archive", "filtered")); got != 1 {
		t.Errorf("Archive filtered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("error")); got != 1 {
		t.Errorf("error cycles = %v, want 1", got)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrintTop(&buf, map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}, 3)

	want := "1. c (5)\n2. a (2)\n3. b (2)\n"
	if buf.String() != want {
		t.Errorf("PrintTop() = %q, want %q", buf.String(), want)
	}
}
