package settle

import (
	"context"
	"fmt"

	"github.com/perkapp/settlement-service/internal/domain"
	"github.com/perkapp/settlement-service/internal/store"
)

// StoreAmounts resolves payout amounts from the task catalog.
type StoreAmounts struct {
	store *store.PostgresStore
}

func NewStoreAmounts(s *store.PostgresStore) *StoreAmounts {
	return &StoreAmounts{store: s}
}

func (a *StoreAmounts) AmountFor(ctx context.Context, kind domain.EventKind, eventKey string) (int64, error) {
	switch kind {
	case domain.KindTaskCompleted:
		reward, err := a.store.RewardForTask(ctx, eventKey)
		if err != nil {
			return 0, err
		}
		if reward == nil {
			return 0, fmt.Errorf("%w: task %s", ErrUnknownEventKind, eventKey)
		}
		return *reward, nil
	default:
		return 0, fmt.Errorf("%w: kind %s", ErrUnknownEventKind, kind)
	}
}
