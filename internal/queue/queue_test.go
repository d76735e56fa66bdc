package queue

import (
	"sync"
	"testing"
)

func TestDequeueOrdersByPriority(t *testing.T) {
	q := NewPriorityQueue[string]()
	q.Enqueue("low", 30)
	q.Enqueue("high", 10)
	q.Enqueue("mid", 20)

	want := []string{"high", "mid", "low"}
	for _, expected := range want {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("queue empty, want %q", expected)
		}
		if got != expected {
			t.Errorf("got %q, want %q", got, expected)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("expected empty queue")
	}
}

func TestMonotonicPriorityIsFIFO(t *testing.T) {
	q := NewPriorityQueue[int]()
	for i := 0; i < 100; i++ {
		q.Enqueue(i, int64(i))
	}
	for i := 0; i < 100; i++ {
		got, ok := q.Dequeue()
		if !ok || got != i {
			t.Fatalf("dequeue %d: got %d ok=%v", i, got, ok)
		}
	}
}

func TestDequeueAll(t *testing.T) {
	q := NewPriorityQueue[string]()
	q.Enqueue("b", 2)
	q.Enqueue("a", 1)

	all := q.DequeueAll()
	if len(all) != 2 || all[0] != "a" || all[1] != "b" {
		t.Errorf("unexpected drain order: %v", all)
	}
	if q.Len() != 0 {
		t.Errorf("queue not empty after DequeueAll: %d", q.Len())
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	q := NewPriorityQueue[int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(base*100+j, int64(base*100+j))
			}
		}(i)
	}
	wg.Wait()

	if q.Len() != 1000 {
		t.Fatalf("got %d items, want 1000", q.Len())
	}
	prev := int64(-1)
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		if int64(item) < prev {
			t.Fatalf("out of order: %d after %d", item, prev)
		}
		prev = int64(item)
	}
}
