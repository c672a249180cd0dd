package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/perkapp/settlement-service/internal/domain"
)

const settlementColumns = `id, event_key, user_id, reference, operation_id, amount, manual, created_at`

// ResolveSettlement returns the settlement record for (userID, eventKey) if
// one exists, or nil. The lookup also covers records written under an
// identity the user's account merged with, in either direction; when more
// than one matches, the earliest record wins.
//
// This is a pure read. A store error must be treated as fatal by callers:
// proceeding to pay without idempotency protection is never safe.
func (s *PostgresStore) ResolveSettlement(ctx context.Context, userID, eventKey string) (*domain.SettlementRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE event_key = $1
		  AND user_id IN (
			SELECT $2::uuid
			UNION SELECT merged_into FROM users WHERE id = $2 AND merged_into IS NOT NULL
			UNION SELECT id FROM users WHERE merged_into = $2
		  )
		ORDER BY created_at ASC
		LIMIT 1
	`, eventKey, userID)

	rec, err := scanSettlement(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving settlement for user %s event %s: %w", userID, eventKey, err)
	}
	return rec, nil
}

// InsertSettlement writes a settlement record. The UNIQUE (user_id, event_key)
// constraint is the linearization point for the at-most-once guarantee: on
// conflict the already-present record is returned and inserted is false.
func (s *PostgresStore) InsertSettlement(ctx context.Context, rec domain.SettlementRecord) (*domain.SettlementRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO settlements (event_key, user_id, reference, operation_id, amount, manual)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, event_key) DO NOTHING
		RETURNING `+settlementColumns+`
	`, rec.EventKey, rec.UserID, rec.Reference, rec.OperationID, rec.Amount, rec.Manual)

	inserted, err := scanSettlement(row)
	if err == nil {
		return inserted, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("inserting settlement for user %s event %s: %w", rec.UserID, rec.EventKey, err)
	}

	// Conflict: another writer got there first. Hand back its record.
	existing, err := s.ResolveSettlement(ctx, rec.UserID, rec.EventKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("settlement conflict for user %s event %s but no record found", rec.UserID, rec.EventKey)
	}
	return existing, false, nil
}

// ListUserSettlements returns a user's most recent settlements.
func (s *PostgresStore) ListUserSettlements(ctx context.Context, userID string, limit int) ([]domain.SettlementRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+settlementColumns+`
		FROM settlements
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying settlements: %w", err)
	}
	defer rows.Close()

	records := []domain.SettlementRecord{}
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning settlement: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// FindUnsettledResults lists stored task results that have no settlement
// record. These are the durable work items the reconciliation sweep retries:
// a result row is written before the settlement job is dispatched, so a
// crash mid-flight leaves a visible gap here instead of a silent loss.
func (s *PostgresStore) FindUnsettledResults(ctx context.Context, limit int) ([]domain.PendingResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tr.user_id, tr.task_id, tr.submitted_at
		FROM task_results tr
		LEFT JOIN settlements st ON st.user_id = tr.user_id AND st.event_key = tr.task_id
		WHERE st.id IS NULL
		ORDER BY tr.submitted_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unsettled results: %w", err)
	}
	defer rows.Close()

	pending := []domain.PendingResult{}
	for rows.Next() {
		var p domain.PendingResult
		if err := rows.Scan(&p.UserID, &p.TaskID, &p.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scanning pending result: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func scanSettlement(row pgx.Row) (*domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	err := row.Scan(
		&rec.ID, &rec.EventKey, &rec.UserID, &rec.Reference,
		&rec.OperationID, &rec.Amount, &rec.Manual, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
