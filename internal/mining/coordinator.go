package mining

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

// Config sizes the worker pool.
type Config struct {
	Workers   int
	BatchSize uint32
	// Progress, when set, receives every worker's batch reports. It is
	// called concurrently from all workers.
	Progress ProgressFunc
}

// Coordinator splits each job's nonce range across a fixed number of
// goroutines. The first worker to report a solution causes every other
// worker to stop at its next batch boundary.
type Coordinator struct {
	workers   int
	batchSize uint32
	progress  ProgressFunc
	meter     *HashRateMeter
	logger    *log.Logger
}

// NewCoordinator creates a coordinator. Zero values select one worker per
// CPU and DefaultBatchSize.
func NewCoordinator(cfg Config, logger *log.Logger) *Coordinator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = DefaultBatchSize
	}
	return &Coordinator{
		workers:   workers,
		batchSize: batch,
		progress:  cfg.Progress,
		meter:     NewHashRateMeter(),
		logger:    logger.WithComponent("coordinator"),
	}
}

// Workers returns the pool size.
func (c *Coordinator) Workers() int {
	return c.workers
}

// Meter exposes the coordinator's hash rate statistics.
func (c *Coordinator) Meter() *HashRateMeter {
	return c.meter
}

// Run searches job with fn. When several workers find solutions before they
// observe the stop signal, the lowest nonce is reported, so a job whose
// range holds solutions in more than one partition still has a single
// deterministic answer once every worker has returned.
//
// Cancelling ctx stops all workers within one batch; Run then returns the
// partial result together with ctx.Err() unless a solution was found.
func (c *Coordinator) Run(ctx context.Context, job *Job, fn hashing.HashFunc) (Result, error) {
	if job == nil || fn == nil {
		return Result{}, errors.New(errors.ErrorTypeContract, "run_job", "job and hash function are required")
	}

	ranges := Partition(job.MinNonce, job.MaxNonce, c.workers)
	logger := c.logger.WithJob(job.ID, job.Height).WithNetwork(job.NetworkID)
	logger.Debug("dispatching job", "workers", len(ranges), "min_nonce", job.MinNonce, "max_nonce", job.MaxNonce)

	var stop atomic.Bool
	results := make(chan Result, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()

	for i, r := range ranges {
		header := job.Header
		g.Go(func() error {
			res := SearchWithOptions(header, job.Target, r.Min, r.Max, fn, SearchOptions{
				BatchSize: c.batchSize,
				Worker:    i,
				Stop: func() bool {
					return stop.Load() || gctx.Err() != nil
				},
				Progress: c.reportProgress(logger),
			})
			results <- res
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	var best Result
	var hashes uint64
	interrupted := false
	for res := range results {
		hashes += res.Hashes
		if res.Interrupted {
			interrupted = true
		}
		if !res.Found {
			continue
		}
		stop.Store(true)
		if !best.Found || res.Nonce < best.Nonce {
			best = res
		}
	}

	best.Hashes = hashes
	best.Elapsed = time.Since(start)
	best.Interrupted = !best.Found && interrupted
	c.meter.ObserveResult(best)

	if best.Found {
		logger.LogSolutionFound(job.ID, best.Nonce, best.Hash.String(), best.Elapsed)
		return best, nil
	}

	logger.LogThroughput("search", hashes, best.Elapsed)
	if err := ctx.Err(); err != nil {
		return best, errors.Wrap(err, errors.ErrorTypeTimeout, "run_job", "search cancelled").
			WithContext("job_id", job.ID)
	}
	return best, nil
}

func (c *Coordinator) reportProgress(logger *log.Logger) ProgressFunc {
	return func(p Progress) {
		logger.LogSearchProgress(p.Worker, p.Nonce, p.Hashes, p.HashRate)
		if c.progress != nil {
			c.progress(p)
		}
	}
}
