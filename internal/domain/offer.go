package domain

import (
	"time"
)

type Offer struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Order struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	OfferID   string     `json:"offer_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

// Good is a redeemable item (a coupon code, a voucher) attached to an offer.
// TxRef is set once the good has been claimed against a ledger transaction.
type Good struct {
	ID        string    `json:"id"`
	OfferID   string    `json:"offer_id"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	TxRef     *string   `json:"tx_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
