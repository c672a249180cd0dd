package settle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis sorted set holding pending settlement jobs.
const QueueKey = "settlement_queue"

// Job is one queued settlement. It is written to the shared queue before
// the triggering request is acknowledged, so a crash between acknowledgment
// and payment leaves a discoverable work item instead of a silent loss.
type Job struct {
	UserID      string           `json:"user_id"`
	EventKey    string           `json:"event_key"`
	Kind        domain.EventKind `json:"kind"`
	Destination string           `json:"destination"`
	// Amount is resolved from the event kind when zero; manual
	// compensations carry an explicit amount.
	Amount    int64  `json:"amount,omitempty"`
	Reference string `json:"reference"`
	Manual    bool   `json:"manual,omitempty"`
}

// NewReference allocates a fresh settlement reference. It is handed to the
// caller immediately and becomes durable only once a settlement record is
// written with it.
func NewReference() string {
	return fmt.Sprintf("prk-%s", uuid.NewString())
}

// NewManualReference marks operator-entered compensations so they are
// distinguishable in reconciliation output.
func NewManualReference() string {
	return fmt.Sprintf("man-%s", uuid.NewString())
}

// Queue is the durable settlement work queue, shared by all server
// processes through Redis.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

func NewQueue(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{client: client, logger: logger}
}

// Enqueue adds a settlement job, scored by enqueue time.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling settlement job: %w", err)
	}

	err = q.client.ZAdd(ctx, QueueKey, redis.Z{
		Score:  float64(time.Now().UnixMicro()),
		Member: string(jobBytes),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing settlement job: %w", err)
	}

	q.logger.Info("settlement queued",
		"user_id", job.UserID,
		"event_key", job.EventKey,
		"reference", job.Reference,
	)
	return nil
}

// Claim pops up to batch ready jobs. Each job is claimed by at most one
// process: ZRem returns 0 when another dispatcher instance already took it.
func (q *Queue) Claim(ctx context.Context, batch int64) ([]Job, error) {
	now := float64(time.Now().UnixMicro())

	results, err := q.client.ZRangeByScoreWithScores(ctx, QueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: batch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling settlement queue: %w", err)
	}

	var jobs []Job
	for _, z := range results {
		member := z.Member.(string)

		removed, err := q.client.ZRem(ctx, QueueKey, member).Result()
		if err != nil {
			return jobs, fmt.Errorf("claiming settlement job: %w", err)
		}
		if removed == 0 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.Error("dropping malformed settlement job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Depth returns the number of jobs waiting in the queue.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, QueueKey).Result()
}
