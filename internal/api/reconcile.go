package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/perkapp/settlement-service/internal/settle"
)

// ReconcileStore is the slice of the store the reconciliation handlers need.
type ReconcileStore interface {
	FindUnsettledResults(ctx context.Context, limit int) ([]domain.PendingResult, error)
	ResolveSettlement(ctx context.Context, userID, eventKey string) (*domain.SettlementRecord, error)
	ListUserSettlements(ctx context.Context, userID string, limit int) ([]domain.SettlementRecord, error)
	PublicAddress(ctx context.Context, userID string) (*string, error)
}

type ReconcileHandler struct {
	store  ReconcileStore
	queue  SettlementQueue
	logger *slog.Logger
}

func NewReconcileHandler(store ReconcileStore, queue SettlementQueue, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{store: store, queue: queue, logger: logger}
}

// Missing lists task results that never got a settlement record: the input
// to the reconciliation sweep. Ledger submission failures and pool timeouts
// all funnel into this view.
func (h *ReconcileHandler) Missing(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	pending, err := h.store.FindUnsettledResults(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list unsettled results")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "missing": pending})
}

type compensateRequest struct {
	UserID string `json:"user_id"`
	TaskID string `json:"task_id"`
	Amount int64  `json:"amount"`
}

// Compensate manually settles a missing payout. It shares the idempotency
// ledger with automatic settlement: a manual payout and a late automatic
// retry can never both pay for the same (user, task).
func (h *ReconcileHandler) Compensate(w http.ResponseWriter, r *http.Request) {
	var req compensateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}
	if req.UserID == "" || req.TaskID == "" || req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	existing, err := h.store.ResolveSettlement(r.Context(), req.UserID, req.TaskID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "settlement store unavailable")
		return
	}
	if existing != nil {
		h.logger.Warn("refusing manual compensation, already settled",
			"user_id", req.UserID,
			"task_id", req.TaskID,
			"reference", existing.Reference,
		)
		respondJSON(w, http.StatusConflict, map[string]string{
			"status":    "error",
			"reason":    "already_compensated",
			"reference": existing.Reference,
		})
		return
	}

	address, err := h.store.PublicAddress(r.Context(), req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "no such user")
		return
	}
	if address == nil {
		respondError(w, http.StatusBadRequest, "no_public_address")
		return
	}

	reference := settle.NewManualReference()
	err = h.queue.Enqueue(r.Context(), settle.Job{
		UserID:      req.UserID,
		EventKey:    req.TaskID,
		Kind:        domain.KindManual,
		Destination: *address,
		Amount:      req.Amount,
		Reference:   reference,
		Manual:      true,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to queue compensation")
		return
	}

	h.logger.Info("manual compensation queued",
		"user_id", req.UserID,
		"task_id", req.TaskID,
		"amount", req.Amount,
		"reference", reference,
	)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "ok", "memo": reference})
}

// Transactions returns a user's recent settlements.
func (h *ReconcileHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	records, err := h.store.ListUserSettlements(r.Context(), userID, 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "txs": records})
}
