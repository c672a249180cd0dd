package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/perkapp/settlement-service/internal/channel"
	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/perkapp/settlement-service/internal/ledger"
	"github.com/perkapp/settlement-service/internal/lock"
)

var (
	// ErrUnknownEventKind means no payout amount could be resolved for the
	// event. Fatal for that settlement: it is logged for manual
	// reconciliation, never retried blindly.
	ErrUnknownEventKind = errors.New("no payout amount configured for event")

	// ErrSubmissionFailed means the ledger rejected the operation or the
	// network failed. No record is written; the event stays pending and a
	// later retry re-enters through the idempotency check.
	ErrSubmissionFailed = errors.New("ledger submission failed")
)

// Records is the idempotency ledger the settler consults before touching
// the ledger network.
type Records interface {
	ResolveSettlement(ctx context.Context, userID, eventKey string) (*domain.SettlementRecord, error)
	InsertSettlement(ctx context.Context, rec domain.SettlementRecord) (*domain.SettlementRecord, bool, error)
}

// AmountResolver maps an event to the amount owed for it.
type AmountResolver interface {
	AmountFor(ctx context.Context, kind domain.EventKind, eventKey string) (int64, error)
}

// Notifier delivers the post-settlement push. Fire and forget: its failures
// never roll back a settlement.
type Notifier interface {
	TxCompleted(ctx context.Context, userID, reference, operationID string, amount int64, eventKey string)
}

// Settler executes settlement jobs: resolve amount, idempotency check,
// channel acquisition, ledger submission, record write, notification.
type Settler struct {
	records        Records
	amounts        AmountResolver
	ledgerClient   ledger.Client
	channels       *channel.Pool
	locks          *lock.Service
	notifier       Notifier
	acquireTimeout time.Duration
	logger         *slog.Logger
}

func NewSettler(
	records Records,
	amounts AmountResolver,
	ledgerClient ledger.Client,
	channels *channel.Pool,
	locks *lock.Service,
	notifier Notifier,
	acquireTimeout time.Duration,
	logger *slog.Logger,
) *Settler {
	return &Settler{
		records:        records,
		amounts:        amounts,
		ledgerClient:   ledgerClient,
		channels:       channels,
		locks:          locks,
		notifier:       notifier,
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}
}

// Settle runs one settlement to completion. Safe to call concurrently from
// many replicas for the same event: the per-event lock admits one attempt
// at a time, and the settlement record is the at-most-once linearization
// point for whoever wins.
func (s *Settler) Settle(ctx context.Context, job Job) error {
	amount := job.Amount
	if amount == 0 {
		resolved, err := s.amounts.AmountFor(ctx, job.Kind, job.EventKey)
		if err != nil {
			s.logger.Error("cannot resolve settlement amount",
				"user_id", job.UserID,
				"event_key", job.EventKey,
				"kind", job.Kind,
				"error", err,
			)
			return fmt.Errorf("resolving amount for %s/%s: %w", job.Kind, job.EventKey, err)
		}
		amount = resolved
	}

	err := s.locks.With(ctx, settleResource(job), func(ctx context.Context) error {
		return s.settleLocked(ctx, job, amount)
	})
	if errors.Is(err, lock.ErrBusy) {
		// Another replica is settling this event right now. Its record
		// will answer any retry; nothing to do here.
		s.logger.Info("settlement already in progress",
			"user_id", job.UserID,
			"event_key", job.EventKey,
		)
		return nil
	}
	return err
}

func settleResource(job Job) string {
	return fmt.Sprintf("settle:%s:%s", job.UserID, job.EventKey)
}

func (s *Settler) settleLocked(ctx context.Context, job Job, amount int64) error {
	// Idempotency check. A store error aborts: paying without this
	// protection risks a double payout.
	existing, err := s.records.ResolveSettlement(ctx, job.UserID, job.EventKey)
	if err != nil {
		return err
	}
	if existing != nil {
		s.logger.Info("settlement replayed from record",
			"user_id", job.UserID,
			"event_key", job.EventKey,
			"reference", existing.Reference,
		)
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	slot, err := s.channels.Acquire(actx)
	cancel()
	if err != nil {
		return fmt.Errorf("settling %s/%s: %w", job.UserID, job.EventKey, err)
	}
	defer s.channels.Release(slot)

	// Submission strictly before the record write: a record written ahead
	// of a confirmed payment would silently swallow the payout on retry.
	opID, err := s.ledgerClient.Submit(ctx, slot.Seed, job.Destination, amount, job.Reference)
	if err != nil {
		s.logger.Warn("ledger submission failed",
			"user_id", job.UserID,
			"event_key", job.EventKey,
			"channel", slot.ID,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	rec, inserted, err := s.records.InsertSettlement(ctx, domain.SettlementRecord{
		EventKey:    job.EventKey,
		UserID:      job.UserID,
		Reference:   job.Reference,
		OperationID: opID,
		Amount:      amount,
		Manual:      job.Manual,
	})
	if err != nil {
		// The payment went through but the record write failed. Loud log:
		// this is the one state only an operator can repair.
		s.logger.Error("PAYMENT MADE BUT RECORD WRITE FAILED",
			"user_id", job.UserID,
			"event_key", job.EventKey,
			"operation_id", opID,
			"error", err,
		)
		return err
	}
	if !inserted {
		// Should not happen under the lock; kept as a tripwire.
		s.logger.Error("duplicate settlement detected after submission",
			"user_id", job.UserID,
			"event_key", job.EventKey,
			"operation_id", opID,
			"existing_reference", rec.Reference,
		)
		return nil
	}

	s.logger.Info("settlement complete",
		"user_id", job.UserID,
		"event_key", job.EventKey,
		"reference", rec.Reference,
		"operation_id", opID,
		"amount", amount,
		"channel", slot.ID,
	)

	s.notifier.TxCompleted(ctx, job.UserID, rec.Reference, opID, amount, job.EventKey)
	return nil
}
