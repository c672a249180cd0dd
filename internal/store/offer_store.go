package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/perkapp/settlement-service/internal/domain"
)

var (
	ErrOfferInactive = errors.New("offer is not active")
	ErrNoGoodsLeft   = errors.New("no goods left for offer")
	ErrNoOpenOrder   = errors.New("no open order for user")
)

// orderTTL is how long a booked order holds a good before it can be
// released back to inventory.
const orderTTL = 15 * time.Minute

func (s *PostgresStore) AddOffer(ctx context.Context, offer domain.Offer, setActive bool) (*domain.Offer, error) {
	var o domain.Offer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO offers (id, title, description, price, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, title, description, price, is_active, created_at
	`, offer.ID, offer.Title, offer.Description, offer.Price, setActive).Scan(
		&o.ID, &o.Title, &o.Description, &o.Price, &o.IsActive, &o.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting offer: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) SetOfferActive(ctx context.Context, offerID string, active bool) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE offers SET is_active = $2 WHERE id = $1`, offerID, active)
	if err != nil {
		return fmt.Errorf("updating offer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no such offer: %s", offerID)
	}
	return nil
}

func (s *PostgresStore) ListActiveOffers(ctx context.Context) ([]domain.Offer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, price, is_active, created_at
		FROM offers WHERE is_active = true
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying offers: %w", err)
	}
	defer rows.Close()

	offers := []domain.Offer{}
	for rows.Next() {
		var o domain.Offer
		if err := rows.Scan(&o.ID, &o.Title, &o.Description, &o.Price, &o.IsActive, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (s *PostgresStore) AddGood(ctx context.Context, offerID, kind, value string) (*domain.Good, error) {
	var g domain.Good
	err := s.pool.QueryRow(ctx, `
		INSERT INTO goods (id, offer_id, kind, value)
		VALUES ($1, $2, $3, $4)
		RETURNING id, offer_id, kind, value, tx_ref, created_at
	`, uuid.NewString(), offerID, kind, value).Scan(
		&g.ID, &g.OfferID, &g.Kind, &g.Value, &g.TxRef, &g.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting good: %w", err)
	}
	return &g, nil
}

// CreateOrder books an offer for a user, provided the offer is active and
// unclaimed goods remain.
func (s *PostgresStore) CreateOrder(ctx context.Context, userID, offerID string) (*domain.Order, error) {
	var isActive bool
	err := s.pool.QueryRow(ctx, `SELECT is_active FROM offers WHERE id = $1`, offerID).Scan(&isActive)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("no such offer: %s", offerID)
		}
		return nil, fmt.Errorf("querying offer: %w", err)
	}
	if !isActive {
		return nil, ErrOfferInactive
	}

	var available int
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM goods WHERE offer_id = $1 AND tx_ref IS NULL`, offerID).Scan(&available)
	if err != nil {
		return nil, fmt.Errorf("counting goods: %w", err)
	}
	if available == 0 {
		return nil, ErrNoGoodsLeft
	}

	var o domain.Order
	err = s.pool.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, offer_id, expires_at)
		VALUES ($1, $2, $3, NOW() + $4::interval)
		RETURNING id, user_id, offer_id, created_at, expires_at, redeemed_at
	`, uuid.NewString(), userID, offerID, orderTTL.String()).Scan(
		&o.ID, &o.UserID, &o.OfferID, &o.CreatedAt, &o.ExpiresAt, &o.RedeemedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting order: %w", err)
	}
	return &o, nil
}

// RedeemOrder claims one unclaimed good against the user's open order and
// stamps it with the external transaction reference. Runs in a transaction
// so a good can never be handed out twice.
func (s *PostgresStore) RedeemOrder(ctx context.Context, userID, txRef string) (*domain.Good, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderID, offerID string
	err = tx.QueryRow(ctx, `
		SELECT id, offer_id FROM orders
		WHERE user_id = $1 AND redeemed_at IS NULL AND expires_at > NOW()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE
	`, userID).Scan(&orderID, &offerID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoOpenOrder
		}
		return nil, fmt.Errorf("querying open order: %w", err)
	}

	var g domain.Good
	err = tx.QueryRow(ctx, `
		UPDATE goods SET tx_ref = $2
		WHERE id = (
			SELECT id FROM goods
			WHERE offer_id = $1 AND tx_ref IS NULL
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, offer_id, kind, value, tx_ref, created_at
	`, offerID, txRef).Scan(&g.ID, &g.OfferID, &g.Kind, &g.Value, &g.TxRef, &g.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoGoodsLeft
		}
		return nil, fmt.Errorf("claiming good: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET redeemed_at = NOW() WHERE id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("closing order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing redemption: %w", err)
	}
	return &g, nil
}

// ReleaseUnclaimedGoods frees goods held by orders that expired without
// being redeemed. Returns the number of orders released.
func (s *PostgresStore) ReleaseUnclaimedGoods(ctx context.Context) (int, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM orders WHERE redeemed_at IS NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("releasing unclaimed goods: %w", err)
	}
	return int(result.RowsAffected()), nil
}
