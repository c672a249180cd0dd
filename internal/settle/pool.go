package settle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// settleTimeout bounds one settlement attempt end to end: channel wait,
// ledger submission and record write.
const settleTimeout = 60 * time.Second

// Pool manages a fixed number of worker goroutines that run settlements.
type Pool struct {
	numWorkers int
	jobs       chan Job
	settler    *Settler
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, settler *Settler, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*2),
		settler:    settler,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They drain the jobs channel until
// it is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("settlement worker pool started", "num_workers", p.numWorkers)
}

// Submit sends a job to the worker pool.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Stop closes the jobs channel and waits for in-flight settlements to
// finish. Settlements are never abandoned mid-submission: cancelling there
// is exactly the failure the idempotency design exists to prevent.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("settlement worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		// Each settlement runs on its own detached context: the shutdown
		// signal must not cancel a payment already in flight.
		sctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		if err := p.settler.Settle(sctx, job); err != nil {
			p.logger.Warn("settlement attempt failed",
				"worker", id,
				"user_id", job.UserID,
				"event_key", job.EventKey,
				"error", err,
			)
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
