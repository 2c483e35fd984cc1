package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Dispatcher forwards events to a sink from a single goroutine. When the
// buffer is full events are dropped and counted so logins never block on
// a slow sink.
type Dispatcher struct {
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	// OnDrop, when set, is called for every dropped event.
	OnDrop func(Event)
}

// NewDispatcher starts a dispatcher with the given buffer size.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.ch:
			d.sink.Emit(context.Background(), e)
		case <-d.done:
			// Drain what was queued before Close.
			for {
				select {
				case e := <-d.ch:
					d.sink.Emit(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

// Emit queues e without blocking.
func (d *Dispatcher) Emit(_ context.Context, e Event) {
	if d.closed.Load() {
		d.drop(e)
		return
	}
	select {
	case d.ch <- e:
	default:
		d.drop(e)
	}
}

func (d *Dispatcher) drop(e Event) {
	d.dropped.Add(1)
	if d.OnDrop != nil {
		d.OnDrop(e)
	}
}

// Close flushes queued events and stops the goroutine.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of events discarded so far.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
