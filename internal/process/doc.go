// Package process supervises the bridge's long-running goroutines.
//
// Every goroutine the bridge starts (pollers, dispatch workers, the retry
// coordinator, cleanup loops) is started through a Supervisor, which records
// a handle for each task and, on Stop, cancels them all and waits for them to
// return. Nothing is fire-and-forget.
//
// Retry is a middleware that re-runs a failing task with exponential
// backoff. It gives up after a bounded number of attempts and never retries
// once shutdown has begun.
//
// Example usage:
//
//	sup := process.NewSupervisor(ctx, logger)
//	sup.Go("poller:"+id, poller.Run)
//	sup.Go("subscribe:"+id, subscribe, process.Retry(process.RetryPolicy{
//	    Attempts:  3,
//	    BaseDelay: time.Second,
//	    Factor:    2,
//	}, logger))
//	defer sup.Stop()
package process
