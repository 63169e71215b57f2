// Package worker runs validation jobs on a fixed set of goroutines.
//
// A Pool accepts jobs until it is closed and delivers results in completion
// order. BatchValidator sits on top of a Pool and returns results in input
// order.
//
//	pool := worker.NewPool(ctx, eng.ValidateJSON, 4)
//	go func() {
//	    for i, doc := range docs {
//	        pool.Submit(worker.Job{Index: i, Data: doc})
//	    }
//	    pool.Close()
//	}()
//	for res := range pool.Results() {
//	    // res.Index, res.Result, res.Err
//	}
package worker
