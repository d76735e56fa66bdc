package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileEvent() *FileEvent {
	return &FileEvent{ObjectEvent: ObjectEvent{
		Local:       &LocalRef{AbsPath: "/tmp/x"},
		LocalChange: ChangeCreated,
	}}
}

func TestChainRunsInPriorityOrder(t *testing.T) {
	q := NewQueue()
	var order []int
	for _, prio := range []int{500, 100, 900} {
		p := prio
		q.Register(&HandlerFunc{Prio: p, Fn: func(ctx context.Context, ev Event) (bool, error) {
			order = append(order, p)
			return false, nil
		}})
	}

	q.AddEvent(fileEvent())
	q.Drain(context.Background())

	assert.Equal(t, []int{100, 500, 900}, order)
}

func TestConsumedStopsDispatch(t *testing.T) {
	q := NewQueue()
	reached := false
	q.Register(&HandlerFunc{Prio: 100, Fn: func(ctx context.Context, ev Event) (bool, error) {
		return true, nil
	}})
	q.Register(&HandlerFunc{Prio: 200, Fn: func(ctx context.Context, ev Event) (bool, error) {
		reached = true
		return false, nil
	}})

	q.AddEvent(fileEvent())
	q.Drain(context.Background())

	assert.False(t, reached, "handler after the consumer must not run")
}

func TestHandlerErrorCoalescesIntoOneFullSync(t *testing.T) {
	q := NewQueue()
	fullSyncs := 0
	q.Register(&HandlerFunc{Prio: 100, Fn: func(ctx context.Context, ev Event) (bool, error) {
		switch ev.(type) {
		case *FullSyncRequest:
			fullSyncs++
			return true, nil
		case *FileEvent:
			return true, errors.New("broken handler")
		}
		return false, nil
	}})

	for i := 0; i < 3; i++ {
		q.AddEvent(fileEvent())
	}
	q.Drain(context.Background())

	assert.Equal(t, 1, fullSyncs, "failures in one burst must coalesce")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	q := NewQueue()
	var sawFullSync bool
	q.Register(&HandlerFunc{Prio: 100, Fn: func(ctx context.Context, ev Event) (bool, error) {
		if _, ok := ev.(*FullSyncRequest); ok {
			sawFullSync = true
			return true, nil
		}
		panic("boom")
	}})

	q.AddEvent(fileEvent())
	q.Drain(context.Background())

	assert.True(t, sawFullSync, "panic must surface as a full-sync request")
}

func TestReentrantEnqueueFromHandler(t *testing.T) {
	q := NewQueue()
	var seen []string
	q.Register(&HandlerFunc{Prio: 100, Fn: func(ctx context.Context, ev Event) (bool, error) {
		seen = append(seen, ev.EventType())
		if len(seen) == 1 {
			q.AddEvent(&FolderEvent{ObjectEvent: ObjectEvent{
				Local: &LocalRef{AbsPath: "/tmp/d"},
			}})
		}
		return true, nil
	}})

	q.AddEvent(fileEvent())
	q.Drain(context.Background())

	assert.Equal(t, []string{"file", "folder"}, seen)
}

func TestAsyncWorker(t *testing.T) {
	q := NewQueue()
	handled := make(chan Event, 1)
	q.Register(&HandlerFunc{Prio: 100, Fn: func(ctx context.Context, ev Event) (bool, error) {
		handled <- ev
		return true, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.AddEvent(fileEvent())
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not dispatched by the worker")
	}
}

func TestRegisterAfterStartPanics(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.Panics(t, func() {
		q.Register(&HandlerFunc{Prio: 1})
	})
}

func TestValidateRejectsEmptyEvent(t *testing.T) {
	ev := &ObjectEvent{}
	assert.ErrorIs(t, ev.Validate(), ErrNoObject)
}
