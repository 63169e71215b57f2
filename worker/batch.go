package worker

import (
	"context"
	"runtime"
	"time"
)

// BatchValidator validates slices of documents in parallel.
type BatchValidator struct {
	fn      Func
	workers int
}

// NewBatchValidator creates a batch validator. If workers <= 0, it defaults
// to runtime.NumCPU().
func NewBatchValidator(fn Func, workers int) *BatchValidator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &BatchValidator{fn: fn, workers: workers}
}

// Workers returns the configured number of workers.
func (bv *BatchValidator) Workers() int {
	return bv.workers
}

// ValidateBatch validates docs and returns their results in input order.
func (bv *BatchValidator) ValidateBatch(ctx context.Context, docs [][]byte) *BatchResult {
	batch := &BatchResult{
		Results:   make([]*JobResult, len(docs)),
		TotalJobs: len(docs),
	}
	if len(docs) == 0 {
		return batch
	}

	// Small batches are not worth the goroutines.
	if len(docs) <= 2 {
		bv.validateSequential(ctx, docs, batch)
		return batch
	}

	workers := bv.workers
	if workers > len(docs) {
		workers = len(docs)
	}
	pool := NewPool(ctx, bv.fn, workers)

	go func() {
		defer pool.Close()
		for i, doc := range docs {
			if !pool.Submit(Job{Index: i, Data: doc}) {
				return
			}
		}
	}()

	for r := range pool.Results() {
		batch.add(r)
	}
	return batch
}

func (bv *BatchValidator) validateSequential(ctx context.Context, docs [][]byte, batch *BatchResult) {
	for i, doc := range docs {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		r := &JobResult{Index: i}
		if bv.fn == nil {
			r.Err = ErrNoValidator
		} else {
			r.Result, r.Err = bv.fn(ctx, doc)
		}
		r.Duration = time.Since(start)
		batch.add(r)
	}
}

func (br *BatchResult) add(r *JobResult) {
	br.Results[r.Index] = r
	br.CompletedJobs++
	br.TotalDuration += r.Duration
	if r.Err != nil {
		br.FailedJobs++
	}
}
