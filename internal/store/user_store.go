package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/perkapp/settlement-service/internal/domain"
)

var ErrDuplicateUser = errors.New("user already registered")

const userColumns = `id, os, device_model, push_token, time_zone, app_version, public_address, onboarded, merged_into, created_at, updated_at`

func (s *PostgresStore) CreateUser(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, error) {
	var token *string
	if req.PushToken != "" {
		token = &req.PushToken
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, os, device_model, push_token, time_zone, app_version)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns+`
	`, req.UserID, req.OS, req.DeviceModel, token, req.TimeZone, req.AppVersion)

	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// SetOnboarded records that an account was created on the ledger for this
// user at the given address.
func (s *PostgresStore) SetOnboarded(ctx context.Context, userID, publicAddress string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET onboarded = true, public_address = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, publicAddress)
	if err != nil {
		return fmt.Errorf("marking user onboarded: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no such user: %s", userID)
	}
	return nil
}

func (s *PostgresStore) UpdatePushToken(ctx context.Context, userID, token string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET push_token = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, token)
	if err != nil {
		return fmt.Errorf("updating push token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no such user: %s", userID)
	}
	return nil
}

// PublicAddress returns the user's wallet address, or nil when the user has
// not onboarded yet.
func (s *PostgresStore) PublicAddress(ctx context.Context, userID string) (*string, error) {
	var addr *string
	err := s.pool.QueryRow(ctx, `SELECT public_address FROM users WHERE id = $1`, userID).Scan(&addr)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("no such user: %s", userID)
		}
		return nil, fmt.Errorf("querying public address: %w", err)
	}
	return addr, nil
}

// MergeUser links oldID to newID so settlement lookups for either identity
// see records written under the other.
func (s *PostgresStore) MergeUser(ctx context.Context, oldID, newID string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET merged_into = $2, updated_at = NOW()
		WHERE id = $1
	`, oldID, newID)
	if err != nil {
		return fmt.Errorf("merging user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no such user: %s", oldID)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.OS, &u.DeviceModel, &u.PushToken, &u.TimeZone, &u.AppVersion,
		&u.PublicAddress, &u.Onboarded, &u.MergedInto, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
