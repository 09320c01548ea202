package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// Submit was called while every worker was busy and the pending queue
	// was full.
	ErrTypeQueueFull = "worker_queue_full"

	// Submit was called on a closed pool.
	ErrTypePoolClosed = "worker_pool_closed"

	DefaultQueueSize = 512
)

// Pool runs jobs on a fixed number of long-lived workers. Jobs submitted while
// every worker is busy wait in a bounded FIFO queue.
//
// Submit and Drain must be called from the same goroutine. Results are only
// delivered by Drain, which lets the caller apply them on its own goroutine.
// Jobs and results are moved through channels and never shared.
type Pool[J, R any] struct {
	name      string
	process   func(J) R
	queueSize int

	inboxes []chan task[J, R]
	results chan result[J, R]
	free    []int
	pending []task[J, R]
	busy    int

	running atomic.Bool
	wg      sync.WaitGroup
}

type task[J, R any] struct {
	job       J
	done      func(R)
	submitted time.Time
}

type result[J, R any] struct {
	worker int
	task   task[J, R]
	value  R
}

// Stats is a snapshot of the pool usage.
type Stats struct {
	Workers int
	Busy    int
	Pending int
}

// New starts a pool of n workers running process. A non positive n uses
// GOMAXPROCS and a non positive queueSize uses DefaultQueueSize.
func New[J, R any](name string, n, queueSize int, process func(J) R) *Pool[J, R] {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool[J, R]{
		name:      name,
		process:   process,
		queueSize: queueSize,
		inboxes:   make([]chan task[J, R], n),
		results:   make(chan result[J, R], n),
		free:      make([]int, 0, n),
		pending:   make([]task[J, R], 0, queueSize),
	}

	p.running.Store(true)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		p.inboxes[i] = make(chan task[J, R], 1)
		p.free = append(p.free, n-1-i)
		go p.work(i)
	}

	instrumentPool(p.name, p.Stats())
	return p
}

// Submit hands the job to a free worker or queues it. done is called by Drain
// once the job completed.
func (p *Pool[J, R]) Submit(job J, done func(R)) error {
	if !p.running.Load() {
		return errors.New("worker pool is closed").
			WithTag("pool", p.name).
			WithType(ErrTypePoolClosed)
	}

	t := task[J, R]{
		job:       job,
		done:      done,
		submitted: time.Now(),
	}

	if len(p.free) != 0 {
		p.dispatch(t)
		instrumentPool(p.name, p.Stats())
		return nil
	}

	if len(p.pending) >= p.queueSize {
		instrumentRejectedJob(p.name)
		return errors.New("worker pool queue is full").
			WithTag("pool", p.name).
			WithTag("queue_size", p.queueSize).
			WithType(ErrTypeQueueFull)
	}

	p.pending = append(p.pending, t)
	instrumentPool(p.name, p.Stats())
	return nil
}

// Drain delivers the results of the completed jobs and dispatches pending
// jobs to the workers that became free. It does not block and returns the
// number of delivered results.
func (p *Pool[J, R]) Drain() int {
	n := 0
	for {
		select {
		case r := <-p.results:
			p.deliver(r)
			n++

		default:
			if n != 0 {
				instrumentPool(p.name, p.Stats())
			}
			return n
		}
	}
}

// DrainWait blocks until at least one result is available or the context is
// done, then drains like Drain.
func (p *Pool[J, R]) DrainWait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()

	case r := <-p.results:
		p.deliver(r)
		return 1 + p.Drain(), nil
	}
}

func (p *Pool[J, R]) Stats() Stats {
	return Stats{
		Workers: len(p.inboxes),
		Busy:    p.busy,
		Pending: len(p.pending),
	}
}

// Close stops the workers once they finished their current job. Pending jobs
// are dropped.
func (p *Pool[J, R]) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	for _, inbox := range p.inboxes {
		close(inbox)
	}
	p.pending = nil
	p.wg.Wait()
}

func (p *Pool[J, R]) dispatch(t task[J, R]) {
	w := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.busy++

	instrumentJobWait(p.name, time.Since(t.submitted))
	p.inboxes[w] <- t
}

func (p *Pool[J, R]) deliver(r result[J, R]) {
	p.busy--
	p.free = append(p.free, r.worker)

	// The queue head goes first so that jobs submitted by done cannot
	// overtake it.
	if len(p.pending) != 0 && p.running.Load() {
		next := p.pending[0]
		var zero task[J, R]
		p.pending[0] = zero
		p.pending = p.pending[1:]
		p.dispatch(next)
	}

	if r.task.done != nil {
		r.task.done(r.value)
	}
}

func (p *Pool[J, R]) work(id int) {
	defer p.wg.Done()

	for t := range p.inboxes[id] {
		start := time.Now()
		v := p.process(t.job)
		instrumentJob(p.name, time.Since(start))

		p.results <- result[J, R]{
			worker: id,
			task:   t,
			value:  v,
		}
	}
}
