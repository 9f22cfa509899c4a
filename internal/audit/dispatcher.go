package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Synchronous delivers on the caller's goroutine with no buffering.
	Synchronous bool
}

type mode uint8

const (
	modeSync mode = iota
	modeDrop
	modeBlock
)

// Dispatcher forwards events to a sink. A nil *Dispatcher is valid and drops
// everything, which is what NewDispatcher returns when auditing is disabled.
type Dispatcher struct {
	mode mode
	sink Sink

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup

	dropped   atomic.Uint64
	delivered atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	dropMu     sync.Mutex
	dropByType map[string]uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{sink: sink, done: make(chan struct{})}
	switch {
	case cfg.Synchronous:
		d.mode = modeSync
		return d
	case cfg.DropIfFull:
		d.mode = modeDrop
	default:
		d.mode = modeBlock
	}

	d.queue = make(chan Event, max(cfg.BufferSize, 1))
	d.wg.Add(1)
	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(context.Background(), event)
		case <-d.done:
			d.drain()
			return
		}
	}
}

// drain delivers whatever was queued before Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(context.Background(), event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	d.sink.Emit(ctx, event)
	d.delivered.Add(1)
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)

	d.dropMu.Lock()
	if d.dropByType == nil {
		d.dropByType = make(map[string]uint64)
	}
	d.dropByType[event.EventType]++
	d.dropMu.Unlock()
}

// Emit hands event to the sink. In drop mode a full buffer drops the event and
// counts it; in block mode Emit waits for room, ctx or Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	switch d.mode {
	case modeSync:
		d.deliver(ctx, event)
	case modeDrop:
		select {
		case d.queue <- event:
		case <-d.done:
		default:
			d.drop(event)
		}
	case modeBlock:
		select {
		case d.queue <- event:
		case <-ctx.Done():
			d.drop(event)
		case <-d.done:
		}
	}
}

// Close stops accepting events and drains whatever is buffered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType breaks Dropped down by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	out := map[string]uint64{}
	if d == nil {
		return out
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	for k, v := range d.dropByType {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
