package queue

import (
	"context"
	"testing"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, model.ReportJob{Index: 0, Team: "Alpha", Code: "abcdefghijklmnop"}) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	job := <-q.Dequeue(ctx)
	if job.Team != "Alpha" || job.Code != "abcdefghijklmnop" {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, model.ReportJob{Index: 0}) || !q.Enqueue(ctx, model.ReportJob{Index: 1}) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, model.ReportJob{Index: 2}) {
		t.Error("expected enqueue to fail when full")
	}
}

func TestInMemoryQueue_CloseDrains(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q.Enqueue(ctx, model.ReportJob{Index: i})
	}
	if err := q.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, model.ReportJob{Index: 9}) {
		t.Error("expected enqueue after close to fail")
	}

	var got []int
	for j := range q.Dequeue(ctx) {
		got = append(got, j.Index)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("expected jobs 0..2 in order, got %v", got)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if q.Enqueue(ctx, model.ReportJob{}) {
		t.Error("expected enqueue with cancelled context to fail")
	}

	q2 := NewInMemoryQueue(WithCapacity(1))
	q2.Enqueue(context.Background(), model.ReportJob{Index: 1})
	ch := q2.Dequeue(ctx)
	select {
	case _, ok := <-ch:
		if ok {
			// The forwarder may win the race once; it must still stop.
			if _, ok := <-ch; ok {
				t.Error("expected dequeue channel to close")
			}
		}
	case <-time.After(time.Second):
		t.Error("dequeue did not stop on cancelled context")
	}
}
