package domain

import (
	"encoding/json"
	"time"
)

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Reward      int64     `json:"reward"`
	// DelayDays is the minimum number of days between a user's previous
	// result submission and this task becoming submittable.
	DelayDays int       `json:"delay_days"`
	CreatedAt time.Time `json:"created_at"`
}

type TaskResult struct {
	UserID      string          `json:"user_id"`
	TaskID      string          `json:"task_id"`
	Results     json.RawMessage `json:"results"`
	SubmittedAt time.Time       `json:"submitted_at"`
}
