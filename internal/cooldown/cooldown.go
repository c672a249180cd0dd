package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Gate deduplicates low-stakes side effects within a time window. The marker
// is created only if absent, in one atomic step, so two concurrent callers
// can never both observe "absent" and both fire.
type Gate struct {
	client *redis.Client
}

func NewGate(client *redis.Client) *Gate {
	return &Gate{client: client}
}

func markerKey(key string) string {
	return fmt.Sprintf("cd:%s", key)
}

// TryFire reports whether the side effect keyed by markerKey may fire.
// The first call in any window returns true and arms the marker; calls
// before the window elapses return false. Store failure is an error; the
// caller decides whether the effect is worth firing unprotected.
func (g *Gate) TryFire(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, markerKey(key), "", window).Result()
	if err != nil {
		return false, fmt.Errorf("checking cooldown %q: %w", key, err)
	}
	return ok, nil
}
