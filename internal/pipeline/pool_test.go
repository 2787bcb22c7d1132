package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cineolabs/cineo-backend/internal/platform/logger"
)

func poolPolicy(slots, queue, perJob int) Policy {
	p := DefaultPolicy()
	p.PoolSize = slots
	p.QueueSize = queue
	p.PerJobCap = perJob
	return p
}

func waitTask(t *testing.T, ch <-chan Task) Task {
	t.Helper()
	select {
	case task := <-ch:
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a task to start")
		return Task{}
	}
}

func TestPoolBackpressure(t *testing.T) {
	pool := NewPool(poolPolicy(1, 2, 3), func(context.Context, Task) {}, logger.NewNop())

	jobID := uuid.New()
	for i := 0; i < 2; i++ {
		if err := pool.Enqueue(Task{JobID: jobID, StageID: uuid.New()}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	// The pool is not running, so the queue cannot drain.
	err := pool.Enqueue(Task{JobID: jobID, StageID: uuid.New()})
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if got := pool.QueueLen(); got != 2 {
		t.Fatalf("unexpected queue length: got=%d want=2", got)
	}
}

func TestPoolRunsFIFO(t *testing.T) {
	started := make(chan Task, 8)
	pool := NewPool(poolPolicy(1, 8, 3), func(_ context.Context, task Task) {
		started <- task
	}, logger.NewNop())

	jobID := uuid.New()
	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		task := Task{JobID: jobID, StageID: uuid.New()}
		want = append(want, task.StageID)
		if err := pool.Enqueue(task); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	for i, wantID := range want {
		if got := waitTask(t, started); got.StageID != wantID {
			t.Fatalf("task %d out of order: got=%s want=%s", i, got.StageID, wantID)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pool run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not drain on shutdown")
	}
}

func TestPoolPerJobCapPreservesFairness(t *testing.T) {
	started := make(chan Task, 8)
	release := make(chan struct{})
	pool := NewPool(poolPolicy(2, 8, 1), func(_ context.Context, task Task) {
		started <- task
		<-release
	}, logger.NewNop())

	jobA := uuid.New()
	jobB := uuid.New()
	a1 := Task{JobID: jobA, StageID: uuid.New()}
	a2 := Task{JobID: jobA, StageID: uuid.New()}
	b1 := Task{JobID: jobB, StageID: uuid.New()}
	for _, task := range []Task{a1, a2, b1} {
		if err := pool.Enqueue(task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	// With a per-job cap of one, the second slot must skip a2 and pick b1.
	first := waitTask(t, started)
	second := waitTask(t, started)
	gotIDs := map[uuid.UUID]bool{first.StageID: true, second.StageID: true}
	if !gotIDs[a1.StageID] || !gotIDs[b1.StageID] {
		t.Fatalf("expected a1 and b1 in flight, got %v and %v", first.StageID, second.StageID)
	}

	close(release)
	if got := waitTask(t, started); got.StageID != a2.StageID {
		t.Fatalf("expected a2 after a1 finished, got %v", got.StageID)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not drain on shutdown")
	}
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewPool(poolPolicy(1, 4, 1), func(context.Context, Task) {}, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	cancel()
	<-done

	err := pool.Enqueue(Task{JobID: uuid.New(), StageID: uuid.New()})
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure after shutdown, got %v", err)
	}
}
