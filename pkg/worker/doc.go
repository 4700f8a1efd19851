// Package worker provides a generic bounded worker pool.
//
// A Pool runs a fixed number of goroutines over a buffered queue. SubmitWait
// blocks for space rather than dropping work, since subscription
// re-evaluation depends on every item arriving in order. Statistics are
// always tracked with atomics; Prometheus metrics are registered when
// WithMetricsRegistry is given.
//
//	pool := worker.NewPool[Job](8, 256, process,
//	    worker.WithMetricsRegistry[Job](registry, "semsub_spu_pool"))
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.SubmitWait(ctx, job); err != nil {
//	    return err
//	}
//
// Stop closes the queue, lets workers drain what was already accepted and
// releases any SubmitWait callers with ErrPoolStopped.
package worker
