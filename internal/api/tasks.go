package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/perkapp/settlement-service/internal/settle"
)

// TaskStore is the slice of the store the task handlers need.
type TaskStore interface {
	AddTask(ctx context.Context, task domain.Task) (*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	TasksForUser(ctx context.Context, userID string) ([]domain.Task, error)
	StoreTaskResults(ctx context.Context, userID, taskID string, results json.RawMessage) error
	LastResultAt(ctx context.Context, userID string) (*time.Time, error)
}

// SettlementResolver is the read side of the idempotency ledger.
type SettlementResolver interface {
	ResolveSettlement(ctx context.Context, userID, eventKey string) (*domain.SettlementRecord, error)
}

// SettlementQueue enqueues durable settlement jobs.
type SettlementQueue interface {
	Enqueue(ctx context.Context, job settle.Job) error
}

type TaskHandler struct {
	tasks   TaskStore
	records SettlementResolver
	queue   SettlementQueue
	logger  *slog.Logger
}

func NewTaskHandler(tasks TaskStore, records SettlementResolver, queue SettlementQueue, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, records: records, queue: queue, logger: logger}
}

type submitResultsRequest struct {
	TaskID  string          `json:"id"`
	Address string          `json:"address"`
	Results json.RawMessage `json:"results"`
}

type submitResultsResponse struct {
	Status string `json:"status"`
	Memo   string `json:"memo"`
}

// SubmitResults receives a user's results for a task and settles the reward.
// The response is immediate: the payment itself runs in the background off
// the durable settlement queue. Resubmissions (same user, same task, any
// replica) are answered with the previously issued settlement reference
// and never pay twice.
func (h *TaskHandler) SubmitResults(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	var req submitResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}
	if req.TaskID == "" || req.Address == "" || len(req.Results) == 0 {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	task, err := h.tasks.GetTask(r.Context(), req.TaskID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		respondError(w, http.StatusBadRequest, "no such task")
		return
	}

	if premature, err := h.prematureSubmission(r.Context(), userID, task); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to check submission window")
		return
	} else if premature {
		h.logger.Warn("premature task results rejected", "user_id", userID, "task_id", task.ID)
		respondError(w, http.StatusBadRequest, "cooldown_enforced")
		return
	}

	// Resubmission path: a prior settlement for this (user, task), under
	// this identity or one it merged with, is replayed as-is. Must stay
	// cheap and side-effect free, it runs on every client retry.
	existing, err := h.records.ResolveSettlement(r.Context(), userID, req.TaskID)
	if err != nil {
		// Fail loudly. Paying without the idempotency check is the one
		// thing this endpoint must never do.
		respondError(w, http.StatusInternalServerError, "settlement store unavailable")
		return
	}
	if existing != nil {
		h.logger.Info("task results resubmission detected",
			"user_id", userID,
			"task_id", req.TaskID,
			"compensated_user_id", existing.UserID,
			"reference", existing.Reference,
		)
		respondJSON(w, http.StatusOK, submitResultsResponse{Status: "ok", Memo: existing.Reference})
		return
	}

	// The result row is the durable work item: written before the job is
	// dispatched so a crash here is discoverable by the reconciliation
	// sweep rather than silently lost.
	if err := h.tasks.StoreTaskResults(r.Context(), userID, req.TaskID, req.Results); err != nil {
		respondError(w, http.StatusInternalServerError, "cannot save results")
		return
	}

	reference := settle.NewReference()
	err = h.queue.Enqueue(r.Context(), settle.Job{
		UserID:      userID,
		EventKey:    req.TaskID,
		Kind:        domain.KindTaskCompleted,
		Destination: req.Address,
		Reference:   reference,
	})
	if err != nil {
		// The stored result keeps the event recoverable; the client may
		// also retry, landing on the resubmission path once settled.
		h.logger.Error("failed to queue settlement",
			"user_id", userID, "task_id", req.TaskID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to queue settlement")
		return
	}

	respondJSON(w, http.StatusOK, submitResultsResponse{Status: "ok", Memo: reference})
}

func (h *TaskHandler) prematureSubmission(ctx context.Context, userID string, task *domain.Task) (bool, error) {
	if task.DelayDays <= 0 {
		return false, nil
	}
	last, err := h.tasks.LastResultAt(ctx, userID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	earliest := last.Add(time.Duration(task.DelayDays) * 24 * time.Hour)
	return time.Now().Before(earliest), nil
}

// NextTasks returns the tasks the user can still complete.
func (h *TaskHandler) NextTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	tasks, err := h.tasks.TasksForUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type addTaskRequest struct {
	Task domain.Task `json:"task"`
}

// AddTask populates the task catalog. Internal endpoint.
func (h *TaskHandler) AddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}
	if req.Task.ID == "" {
		req.Task.ID = uuid.NewString()
	}
	if req.Task.Title == "" || req.Task.Reward <= 0 {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	task, err := h.tasks.AddTask(r.Context(), req.Task)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add task")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "task": task})
}
