package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/perkapp/settlement-service/internal/lock"
	"github.com/perkapp/settlement-service/internal/store"
)

// OfferStore is the slice of the store the offer handlers need.
type OfferStore interface {
	AddOffer(ctx context.Context, offer domain.Offer, setActive bool) (*domain.Offer, error)
	SetOfferActive(ctx context.Context, offerID string, active bool) error
	ListActiveOffers(ctx context.Context) ([]domain.Offer, error)
	AddGood(ctx context.Context, offerID, kind, value string) (*domain.Good, error)
	CreateOrder(ctx context.Context, userID, offerID string) (*domain.Order, error)
	RedeemOrder(ctx context.Context, userID, txRef string) (*domain.Good, error)
	ReleaseUnclaimedGoods(ctx context.Context) (int, error)
}

type OfferHandler struct {
	offers OfferStore
	locks  *lock.Service
	logger *slog.Logger
}

func NewOfferHandler(offers OfferStore, locks *lock.Service, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{offers: offers, locks: locks, logger: logger}
}

type addOfferRequest struct {
	Offer     domain.Offer `json:"offer"`
	SetActive bool         `json:"set_active"`
}

func (h *OfferHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}
	if req.Offer.ID == "" {
		req.Offer.ID = uuid.NewString()
	}
	if req.Offer.Title == "" || req.Offer.Price <= 0 {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	offer, err := h.offers.AddOffer(r.Context(), req.Offer, req.SetActive)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add offer")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "offer": offer})
}

type setActiveRequest struct {
	OfferID  string `json:"id"`
	IsActive bool   `json:"is_active"`
}

func (h *OfferHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OfferID == "" {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	if err := h.offers.SetOfferActive(r.Context(), req.OfferID, req.IsActive); err != nil {
		respondError(w, http.StatusBadRequest, "failed to set offer status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := userIDFromRequest(r); !ok {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	offers, err := h.offers.ListActiveOffers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list offers")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

type addGoodRequest struct {
	OfferID string `json:"offer_id"`
	Kind    string `json:"good_type"`
	Value   string `json:"value"`
}

func (h *OfferHandler) AddGood(w http.ResponseWriter, r *http.Request) {
	var req addGoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}
	if req.OfferID == "" || req.Kind == "" || req.Value == "" {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	if _, err := h.offers.AddGood(r.Context(), req.OfferID, req.Kind, req.Value); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add good")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bookRequest struct {
	OfferID string `json:"id"`
}

func (h *OfferHandler) Book(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OfferID == "" {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	order, err := h.offers.CreateOrder(r.Context(), userID, req.OfferID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOfferInactive):
			respondError(w, http.StatusBadRequest, "offer not active")
		case errors.Is(err, store.ErrNoGoodsLeft):
			respondError(w, http.StatusBadRequest, "out of goods")
		default:
			respondError(w, http.StatusInternalServerError, "failed to book offer")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "order_id": order.ID})
}

type redeemRequest struct {
	TxRef string `json:"tx_hash"`
}

// Redeem claims the goods paid for by an external ledger transaction. The
// per-transaction lock keeps two replicas from processing the same payment.
func (h *OfferHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxRef == "" {
		respondError(w, http.StatusBadRequest, "bad-request")
		return
	}

	var good *domain.Good
	err := h.locks.With(r.Context(), "redeem:"+req.TxRef, func(ctx context.Context) error {
		g, err := h.offers.RedeemOrder(ctx, userID, req.TxRef)
		if err != nil {
			return err
		}
		good = g
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, lock.ErrBusy):
			respondError(w, http.StatusConflict, "already processing this transaction")
		case errors.Is(err, store.ErrNoOpenOrder), errors.Is(err, store.ErrNoGoodsLeft):
			respondError(w, http.StatusBadRequest, "cannot redeem")
		default:
			h.logger.Error("redemption failed", "user_id", userID, "tx_ref", req.TxRef, "error", err)
			respondError(w, http.StatusInternalServerError, "redemption failed")
		}
		return
	}

	h.logger.Info("order redeemed", "user_id", userID, "tx_ref", req.TxRef, "good_id", good.ID)
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "goods": []domain.Good{*good}})
}

// ReleaseUnclaimed frees goods held by expired orders. Internal endpoint,
// run periodically.
func (h *OfferHandler) ReleaseUnclaimed(w http.ResponseWriter, r *http.Request) {
	released, err := h.offers.ReleaseUnclaimedGoods(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to release goods")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "released": released})
}
