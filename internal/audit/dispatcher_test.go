package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type gateSink struct {
	gate chan struct{}
	seen atomic.Int64
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
	s.seen.Add(1)
}

func TestDisabledDispatcherIsNilSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher should report zero counters")
	}
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is taken by the worker and blocks on the gate, one fills the buffer,
	// the rest must be dropped without blocking the caller.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failed"})
	}
	deadline := time.Now().Add(time.Second)
	for d.Dropped() < 8 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() < 8 {
		t.Fatalf("expected at least 8 drops, got %d", d.Dropped())
	}

	close(sink.gate)
	d.Close()
	if got := sink.seen.Load() + int64(d.Dropped()); got != 10 {
		t.Fatalf("delivered+dropped=%d, want 10", got)
	}
	if byType := d.DroppedByType(); byType["login_failed"] != d.Dropped() || len(byType) != 1 {
		t.Fatalf("DroppedByType = %v, Dropped = %d", byType, d.Dropped())
	}
}

func TestDispatcherBlockModeDropsOnCancelledContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	d.Emit(context.Background(), Event{EventType: "login_success"})
	deadline := time.Now().Add(time.Second)
	for len(d.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: "login_success"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, Event{EventType: "account_locked"})

	if d.Dropped() != 1 {
		t.Fatalf("dropped=%d, want 1", d.Dropped())
	}
	if got := d.DroppedByType(); got["account_locked"] != 1 || got["login_success"] != 0 {
		t.Fatalf("DroppedByType = %v", got)
	}

	close(sink.gate)
	d.Close()
	if d.Delivered() != 2 {
		t.Fatalf("delivered=%d, want 2", d.Delivered())
	}
}

func TestDispatcherCloseDrainsBuffer(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "logout"})
	}
	d.Close()

	if len(sink.Events()) != 5 {
		t.Fatalf("expected 5 drained events, got %d", len(sink.Events()))
	}
	d.Emit(context.Background(), Event{EventType: "late"})
	if len(sink.Events()) != 5 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherSynchronous(t *testing.T) {
	var got []Event
	d := NewDispatcher(Config{Enabled: true, Synchronous: true}, SinkFunc(func(_ context.Context, e Event) {
		got = append(got, e)
	}))
	d.Emit(context.Background(), Event{EventType: "account_locked", AccountID: "a1"})
	if len(got) != 1 || got[0].AccountID != "a1" {
		t.Fatalf("synchronous delivery missing: %+v", got)
	}
	if d.Delivered() != 1 {
		t.Fatalf("delivered=%d", d.Delivered())
	}
	d.Close()
}

func TestJSONWriterSinkOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventType: "login_failed", Reason: "wrong_password", LoginName: "a@b.c"})
	s.Emit(context.Background(), Event{EventType: "login_success", Success: true, AccountID: "a1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Reason != "wrong_password" || first.Success {
		t.Fatalf("unexpected first event: %+v", first)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := NewChannelSink(1), NewChannelSink(1)
	MultiSink{a, nil, b}.Emit(context.Background(), Event{EventType: "logout"})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatal("expected both sinks to receive the event")
	}
}
