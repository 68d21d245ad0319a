// Package worker provides a generic bounded worker pool. The job queue runs
// action jobs on it; anything with a processor func and a tolerance for
// dropped work under overload can use it.
//
// A pool owns a fixed number of goroutines reading from one buffered
// channel. Submit never blocks: when the queue is full it returns
// ErrQueueFull immediately, which is the backpressure signal. Workers drain
// the remaining queue on Stop, bounded by the caller's timeout.
//
//	pool := worker.NewPool[Job](10, 1000,
//		func(ctx context.Context, job Job) error {
//			return process(ctx, job)
//		})
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	if err := pool.Submit(job); errors.Is(err, worker.ErrQueueFull) {
//		// overloaded, shed or retry later
//	}
//
// Statistics are always tracked with atomics and readable via Stats.
// Prometheus metrics are opt-in through WithMetricsRegistry, which exposes
// queue depth, utilization, and submitted/processed/failed/dropped counters
// under the given prefix.
//
// Worker count is fixed at creation. There is no per-item timeout or
// priority ordering; processors enforce their own deadlines from the
// context they receive.
package worker
