package settle

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher continuously polls the settlement queue and hands claimed jobs
// to the worker pool. Every server process runs one; the claim-on-remove
// discipline in Queue keeps them from double-settling.
type Dispatcher struct {
	queue        *Queue
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(queue *Queue, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("settlement dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("settlement dispatcher stopping")
			return
		case <-ticker.C:
			jobs, err := d.queue.Claim(ctx, d.batchSize)
			if err != nil {
				d.logger.Error("failed to poll settlement queue", "error", err)
				continue
			}
			for _, job := range jobs {
				d.pool.Submit(job)
			}
		}
	}
}
