package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cineolabs/cineo-backend/internal/platform/logger"
)

// Task identifies one stage handed to the pool for execution.
type Task struct {
	JobID   uuid.UUID
	StageID uuid.UUID
}

// Pool runs tasks on a fixed number of slots over a bounded FIFO queue.
// Enqueue never blocks on execution; a full queue yields ErrBackpressure and
// the caller leaves the stage queued in the store for the resume scanner.
// Each job holds at most perJobCap slots at once; tasks over the cap are
// skipped in place, so other jobs keep their arrival order.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Task
	inflight map[uuid.UUID]int
	closed   bool

	slots     int
	queueCap  int
	perJobCap int

	run func(ctx context.Context, t Task)
	log *logger.Logger
}

func NewPool(p Policy, run func(ctx context.Context, t Task), baseLog *logger.Logger) *Pool {
	pool := &Pool{
		inflight:  make(map[uuid.UUID]int),
		slots:     p.PoolSize,
		queueCap:  p.QueueSize,
		perJobCap: p.PerJobCap,
		run:       run,
		log:       baseLog.With("component", "WorkerPool"),
	}
	pool.cond = sync.NewCond(&pool.mu)
	return pool
}

// Enqueue appends a task to the queue. ErrBackpressure when full or closed.
func (p *Pool) Enqueue(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.queue) >= p.queueCap {
		return ErrBackpressure
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	return nil
}

// Run blocks until ctx is cancelled and every in-flight task has returned.
func (p *Pool) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.slots; i++ {
		g.Go(func() error {
			for {
				t, ok := p.take()
				if !ok {
					return nil
				}
				p.run(gctx, t)
				p.release(t)
			}
		})
	}
	return g.Wait()
}

// QueueLen reports the number of waiting tasks.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// take pops the first task whose job is under the in-flight cap, waiting
// when nothing is dispatchable. false means the pool is shutting down.
func (p *Pool) take() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return Task{}, false
		}
		for i, t := range p.queue {
			if p.inflight[t.JobID] >= p.perJobCap {
				continue
			}
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			p.inflight[t.JobID]++
			return t, true
		}
		p.cond.Wait()
	}
}

func (p *Pool) release(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.inflight[t.JobID]; n <= 1 {
		delete(p.inflight, t.JobID)
	} else {
		p.inflight[t.JobID] = n - 1
	}
	p.cond.Broadcast()
}
