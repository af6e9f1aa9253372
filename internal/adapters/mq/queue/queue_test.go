package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/ladder/internal/domain/model"
)

func mutation(id string, v float64) model.Mutation {
	return model.Mutation{ID: id, Member: "m-" + id, Op: model.OpIncrement, Value: v}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, mutation("1", 100)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	m := <-q.Dequeue(ctx)
	if m.ID != "1" || m.Value != 100 {
		t.Errorf("unexpected mutation %+v", m)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if q.Capacity() != 2 {
		t.Errorf("expected capacity 2, got %d", q.Capacity())
	}
	for i := 0; i < 2; i++ {
		if !q.Enqueue(ctx, mutation(fmt.Sprint(i), 1)) {
			t.Errorf("expected enqueue %d to succeed", i)
		}
	}
	if q.Enqueue(ctx, mutation("overflow", 1)) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.Enqueue(ctx, mutation("1", 1)) {
		t.Error("expected enqueue with a cancelled context to fail")
	}
}

func TestInMemoryQueue_PreservesOrder(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		q.Enqueue(ctx, mutation(fmt.Sprint(i), float64(i)))
	}
	ch := q.Dequeue(ctx)
	for i := 0; i < 10; i++ {
		if m := <-ch; m.ID != fmt.Sprint(i) {
			t.Fatalf("expected mutation %d, got %s", i, m.ID)
		}
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	const (
		producers = 10
		perP      = 100
	)

	var consumed sync.WaitGroup
	consumed.Add(producers * perP)
	seen := sync.Map{}
	for c := 0; c < 3; c++ {
		go func() {
			for m := range q.Dequeue(ctx) {
				seen.Store(m.ID, true)
				consumed.Done()
			}
		}()
	}

	var produced sync.WaitGroup
	for p := 0; p < producers; p++ {
		produced.Add(1)
		go func(id int) {
			defer produced.Done()
			for j := 0; j < perP; j++ {
				m := mutation(fmt.Sprintf("%d_%d", id, j), 1)
				for !q.Enqueue(ctx, m) {
					time.Sleep(time.Millisecond)
				}
			}
		}(p)
	}
	produced.Wait()
	consumed.Wait()
	_ = q.Close()

	count := 0
	seen.Range(func(_, _ any) bool { count++; return true })
	if count != producers*perP {
		t.Errorf("expected %d distinct mutations, got %d", producers*perP, count)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	q.Enqueue(ctx, mutation("1", 1))
	q.Enqueue(ctx, mutation("2", 2))
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, mutation("3", 3)) {
		t.Error("expected enqueue to fail after closing")
	}

	// Buffered mutations drain before the channel reports closed.
	var drained []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				if len(drained) != 2 {
					t.Errorf("expected 2 drained mutations, got %v", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got %v", err)
				}
				return
			}
			drained = append(drained, m.ID)
		case <-timeout:
			t.Fatal("expected dequeue channel to close")
		}
	}
}
