package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/perkapp/settlement-service/internal/domain"
)

func (s *PostgresStore) AddTask(ctx context.Context, task domain.Task) (*domain.Task, error) {
	var t domain.Task
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, title, description, reward, delay_days)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, title, description, reward, delay_days, created_at
	`, task.ID, task.Title, task.Description, task.Reward, task.DelayDays).Scan(
		&t.ID, &t.Title, &t.Description, &t.Reward, &t.DelayDays, &t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var t domain.Task
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, description, reward, delay_days, created_at
		FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.Title, &t.Description, &t.Reward, &t.DelayDays, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return &t, nil
}

// TasksForUser returns the tasks the user has not submitted results for yet,
// oldest first.
func (s *PostgresStore) TasksForUser(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.title, t.description, t.reward, t.delay_days, t.created_at
		FROM tasks t
		WHERE NOT EXISTS (
			SELECT 1 FROM task_results tr
			WHERE tr.task_id = t.id AND tr.user_id = $1
		)
		ORDER BY t.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks for user: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Reward, &t.DelayDays, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// StoreTaskResults persists a user's results for a task. Replays of the same
// submission are absorbed by the primary key; the stored row is the durable
// work item the reconciliation sweep keys off.
func (s *PostgresStore) StoreTaskResults(ctx context.Context, userID, taskID string, results json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_results (user_id, task_id, results)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, task_id) DO NOTHING
	`, userID, taskID, results)
	if err != nil {
		return fmt.Errorf("storing task results: %w", err)
	}
	return nil
}

// RewardForTask returns the configured payout amount for a task, or nil when
// the task is unknown.
func (s *PostgresStore) RewardForTask(ctx context.Context, taskID string) (*int64, error) {
	var reward int64
	err := s.pool.QueryRow(ctx, `SELECT reward FROM tasks WHERE id = $1`, taskID).Scan(&reward)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying task reward: %w", err)
	}
	return &reward, nil
}

// LastResultAt returns the time of the user's most recent result submission,
// used to enforce per-task delay windows.
func (s *PostgresStore) LastResultAt(ctx context.Context, userID string) (*time.Time, error) {
	var submittedAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT submitted_at FROM task_results
		WHERE user_id = $1
		ORDER BY submitted_at DESC
		LIMIT 1
	`, userID).Scan(&submittedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying last result time: %w", err)
	}
	return &submittedAt, nil
}
