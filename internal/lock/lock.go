package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when the resource is locked by another holder. Callers
// report "already in progress" rather than retrying: a legitimate retry
// observes the eventual outcome through the settlement records instead.
var ErrBusy = errors.New("resource is locked by another holder")

// Lua script for token-checked release: the lock is deleted only if it is
// still held by the releasing caller, so a slow holder cannot free a lock
// that already expired and was re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Service provides short-lived, named, non-blocking locks over Redis,
// shared by every server process. Locks auto-expire after the configured
// TTL so a crashed holder cannot wedge a resource; the TTL must exceed the
// worst-case duration of the critical section it protects.
type Service struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Lock is a held lock. Release is idempotent.
type Lock struct {
	key   string
	token string
	svc   *Service
}

func NewService(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{client: client, ttl: ttl, logger: logger}
}

func lockKey(resourceKey string) string {
	return fmt.Sprintf("lock:%s", resourceKey)
}

// TryAcquire attempts to take the lock for resourceKey without blocking.
// Returns ErrBusy when another caller holds it. Store unavailability is an
// error: callers must fail closed, never assume the lock was granted.
func (s *Service) TryAcquire(ctx context.Context, resourceKey string) (*Lock, error) {
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, lockKey(resourceKey), token, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %q: %w", resourceKey, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	return &Lock{key: lockKey(resourceKey), token: token, svc: s}, nil
}

// Release frees the lock if this holder still owns it. Safe to call more
// than once, and a no-op when the lock already expired.
func (l *Lock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.svc.client, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("releasing lock %q: %w", l.key, err)
	}
	return nil
}

// With runs fn while holding the lock for resourceKey, releasing it on every
// exit path including a panic in fn. Returns ErrBusy without running fn when
// the lock is held elsewhere.
func (s *Service) With(ctx context.Context, resourceKey string, fn func(ctx context.Context) error) error {
	lock, err := s.TryAcquire(ctx, resourceKey)
	if err != nil {
		return err
	}
	defer func() {
		// Release with a fresh context so the lock is freed even if the
		// caller's context was cancelled mid-critical-section.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(rctx); err != nil {
			s.logger.Error("failed to release lock", "resource", resourceKey, "error", err)
		}
	}()

	return fn(ctx)
}
