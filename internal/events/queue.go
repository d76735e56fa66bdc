package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/opendms/docsync/internal/queue"
)

// Handler consumes events from the queue. Lower priority numbers run first.
// Handle returns true when the event is consumed; dispatch stops there.
type Handler interface {
	Priority() int
	Handle(ctx context.Context, ev Event) (bool, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	Prio int
	Fn   func(ctx context.Context, ev Event) (bool, error)
}

func (h *HandlerFunc) Priority() int { return h.Prio }

func (h *HandlerFunc) Handle(ctx context.Context, ev Event) (bool, error) {
	return h.Fn(ctx, ev)
}

// Queue is the single serialization point of the sync engine. Producers
// enqueue from any goroutine; one worker drains in FIFO order and walks the
// handler chain synchronously, so handlers never race each other over
// shared state.
type Queue struct {
	handlers []Handler
	pending  *queue.PriorityQueue[Event]
	seq      atomic.Int64
	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool

	// fullSyncPending coalesces queue-generated resync requests so a burst
	// of failing handlers produces one crawl, not many.
	fullSyncPending atomic.Bool
}

func NewQueue() *Queue {
	return &Queue{
		pending: queue.NewPriorityQueue[Event](),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Register adds a handler to the chain. Must be called before Start.
func (q *Queue) Register(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		panic("events: Register after Start")
	}
	q.handlers = append(q.handlers, h)
	sort.SliceStable(q.handlers, func(i, j int) bool {
		return q.handlers[i].Priority() < q.handlers[j].Priority()
	})
}

// AddEvent enqueues an event for asynchronous processing. Never blocks;
// re-entrant enqueue from a running handler is legal and expected.
func (q *Queue) AddEvent(ev Event) {
	if ev == nil {
		return
	}
	q.pending.Enqueue(ev, q.seq.Add(1))

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of events waiting for dispatch.
func (q *Queue) Len() int {
	return q.pending.Len()
}

// Start launches the single dispatch worker.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-q.wake:
				q.drain(ctx)
			}
		}
	}()
}

// Stop terminates the worker. Pending events are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return
	}
	close(q.done)
	q.wg.Wait()
	q.started = false
	if dropped := q.pending.DequeueAll(); len(dropped) > 0 {
		slog.Debug("event queue stopped", "discarded", len(dropped))
	} else {
		slog.Debug("event queue stopped")
	}
}

// Drain dispatches everything currently queued. Used by one-shot sync runs
// and tests; the background worker calls the same loop.
func (q *Queue) Drain(ctx context.Context) {
	q.drain(ctx)
}

func (q *Queue) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		ev, ok := q.pending.Dequeue()
		if !ok {
			return
		}
		if _, isFullSync := ev.(*FullSyncRequest); isFullSync {
			q.fullSyncPending.Store(false)
		}
		q.dispatch(ctx, ev)
	}
}

// dispatch walks the chain in priority order and stops at the first handler
// that consumes the event. A failing handler must not stop dispatch of
// subsequent unrelated events: the error is logged and converted into a
// full-resync request, never silently dropped.
func (q *Queue) dispatch(ctx context.Context, ev Event) {
	for _, h := range q.handlers {
		consumed, err := q.safeHandle(ctx, h, ev)
		if err != nil {
			slog.Error("event handler failed", "event", ev.EventType(), "error", err)
			q.requestFullSync(fmt.Sprintf("handler failed on %s event: %v", ev.EventType(), err))
			return
		}
		if consumed {
			return
		}
	}
	slog.Debug("event not consumed", "event", ev.EventType())
}

func (q *Queue) safeHandle(ctx context.Context, h Handler, ev Event) (consumed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

func (q *Queue) requestFullSync(reason string) {
	if q.fullSyncPending.CompareAndSwap(false, true) {
		q.AddEvent(&FullSyncRequest{Reason: reason})
	}
}
