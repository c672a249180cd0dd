package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/perkapp/settlement-service/internal/channel"
	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/perkapp/settlement-service/internal/ledger"
	"github.com/perkapp/settlement-service/internal/lock"
	"github.com/perkapp/settlement-service/internal/store"
)

// UserStore is the slice of the store the user handlers need.
type UserStore interface {
	CreateUser(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	SetOnboarded(ctx context.Context, userID, publicAddress string) error
	UpdatePushToken(ctx context.Context, userID, token string) error
	MergeUser(ctx context.Context, oldID, newID string) error
}

type UserHandler struct {
	users           UserStore
	locks           *lock.Service
	ledgerClient    ledger.Client
	channels        *channel.Pool
	acquireTimeout  time.Duration
	startingBalance int64
	logger          *slog.Logger
}

func NewUserHandler(
	users UserStore,
	locks *lock.Service,
	ledgerClient ledger.Client,
	channels *channel.Pool,
	acquireTimeout time.Duration,
	startingBalance int64,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		users:           users,
		locks:           locks,
		ledgerClient:    ledgerClient,
		channels:        channels,
		acquireTimeout:  acquireTimeout,
		startingBalance: startingBalance,
		logger:          logger,
	}
}

// Register creates a user. Clients call this until they receive 200, so a
// duplicate id is answered distinctly.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	if _, err := uuid.Parse(req.UserID); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}
	if req.OS == "" || req.DeviceModel == "" || req.TimeZone == "" || req.AppVersion == "" {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			respondError(w, http.StatusBadRequest, "duplicate-userid")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	h.logger.Info("user registered", "user_id", user.ID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type onboardRequest struct {
	PublicAddress string `json:"public_address"`
}

// Onboard creates the user's account on the ledger and wires the address to
// the user. The per-address lock keeps two replicas from creating the same
// account; a Busy answer means creation is in flight elsewhere and the
// client should retry later and observe the result.
func (h *UserHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	var req onboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PublicAddress == "" {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		respondError(w, http.StatusBadRequest, "no such user")
		return
	}
	if user.Onboarded {
		respondError(w, http.StatusBadRequest, "user already has an account")
		return
	}

	err = h.locks.With(r.Context(), "address:"+req.PublicAddress, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, h.acquireTimeout)
		slot, err := h.channels.Acquire(actx)
		cancel()
		if err != nil {
			return err
		}
		defer h.channels.Release(slot)

		opID, err := h.ledgerClient.CreateAccount(ctx, slot.Seed, req.PublicAddress, h.startingBalance)
		if err != nil {
			return err
		}

		h.logger.Info("account created",
			"user_id", userID,
			"address", req.PublicAddress,
			"operation_id", opID,
		)
		return h.users.SetOnboarded(ctx, userID, req.PublicAddress)
	})
	if err != nil {
		switch {
		case errors.Is(err, lock.ErrBusy):
			respondError(w, http.StatusConflict, "already creating account for this address")
		case errors.Is(err, channel.ErrSlotTimeout):
			respondError(w, http.StatusServiceUnavailable, "no submission channel available")
		default:
			h.logger.Error("onboarding failed", "user_id", userID, "error", err)
			respondError(w, http.StatusInternalServerError, "unable to create account")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mergeRequest struct {
	OldUserID string `json:"old_user_id"`
	NewUserID string `json:"new_user_id"`
}

// Merge links an old identity to its replacement, typically after a device
// restore created a fresh user id. Settlement lookups for either identity
// then see records written under the other, so rewards earned before the
// migration are never paid a second time after it.
func (h *UserHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}
	if _, err := uuid.Parse(req.OldUserID); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}
	if _, err := uuid.Parse(req.NewUserID); err != nil || req.OldUserID == req.NewUserID {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	target, err := h.users.GetUser(r.Context(), req.NewUserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if target == nil {
		respondError(w, http.StatusBadRequest, "no such user")
		return
	}

	if err := h.users.MergeUser(r.Context(), req.OldUserID, req.NewUserID); err != nil {
		h.logger.Error("user merge failed",
			"old_user_id", req.OldUserID, "new_user_id", req.NewUserID, "error", err)
		respondError(w, http.StatusBadRequest, "failed to merge user")
		return
	}

	h.logger.Info("user merged", "old_user_id", req.OldUserID, "new_user_id", req.NewUserID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateTokenRequest struct {
	Token string `json:"token"`
}

func (h *UserHandler) UpdateToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	var req updateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	if err := h.users.UpdatePushToken(r.Context(), userID, req.Token); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
