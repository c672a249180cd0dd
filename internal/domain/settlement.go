package domain

import (
	"time"
)

// SettlementRecord is the proof that an event was converted into exactly one
// ledger operation. Created at most once per (user_id, event_key); never
// mutated afterwards, only read back for replay.
type SettlementRecord struct {
	ID          string    `json:"id"`
	EventKey    string    `json:"event_key"`
	UserID      string    `json:"user_id"`
	Reference   string    `json:"reference"`
	OperationID string    `json:"operation_id"`
	Amount      int64     `json:"amount"`
	Manual      bool      `json:"manual"`
	CreatedAt   time.Time `json:"created_at"`
}

// PendingResult is a stored task result that has no settlement record yet.
// The reconciliation sweep pages through these to find payments that were
// lost between acknowledgment and submission.
type PendingResult struct {
	UserID      string    `json:"user_id"`
	TaskID      string    `json:"task_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}
