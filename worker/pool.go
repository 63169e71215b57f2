package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofhir/model/pkg/issue"
)

// Func validates one encoded document.
type Func func(ctx context.Context, data []byte) (*issue.Result, error)

// ErrNoValidator is returned for every job of a pool created without a Func.
var ErrNoValidator = errors.New("worker: no validator configured")

// Pool manages a fixed number of worker goroutines.
type Pool struct {
	workers int
	fn      Func
	ctx     context.Context

	mu      sync.RWMutex
	closed  bool
	jobs    chan Job
	results chan *JobResult
	wg      sync.WaitGroup

	// Metrics
	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	totalDuration atomic.Uint64
}

// NewPool starts a pool running fn on the given number of workers.
// If workers <= 0, it defaults to runtime.NumCPU(). Jobs picked up after ctx
// is done fail with ctx.Err() without calling fn.
func NewPool(ctx context.Context, fn Func, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Pool{
		workers: workers,
		fn:      fn,
		ctx:     ctx,
		jobs:    make(chan Job, workers*2),
		results: make(chan *JobResult, workers*2),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues a job, blocking while the queue is full. It returns false
// once the pool is closed or ctx is done.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		p.jobsSubmitted.Add(1)
		return true
	}
}

// Results returns the channel results are delivered on. It is closed after
// Close once every queued job has finished. Callers must keep reading it
// while submitting, or the workers stall.
func (p *Pool) Results() <-chan *JobResult {
	return p.results
}

// Close stops accepting jobs. Queued jobs still run. Close does not block.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)

	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:       p.workers,
		JobsSubmitted: p.jobsSubmitted.Load(),
		JobsCompleted: p.jobsCompleted.Load(),
		AvgDuration:   p.averageDuration(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers       int
	JobsSubmitted uint64
	JobsCompleted uint64
	AvgDuration   time.Duration
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		result := p.process(job)
		p.jobsCompleted.Add(1)
		p.totalDuration.Add(uint64(result.Duration)) //nolint:gosec // durations are non-negative
		p.results <- result
	}
}

func (p *Pool) process(job Job) *JobResult {
	start := time.Now()
	result := &JobResult{Index: job.Index, ID: job.ID}

	switch {
	case p.fn == nil:
		result.Err = ErrNoValidator
	case p.ctx.Err() != nil:
		result.Err = p.ctx.Err()
	default:
		result.Result, result.Err = p.fn(p.ctx, job.Data)
	}

	result.Duration = time.Since(start)
	return result
}

func (p *Pool) averageDuration() time.Duration {
	completed := p.jobsCompleted.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(p.totalDuration.Load() / completed) //nolint:gosec // nanoseconds within int64 range
}
