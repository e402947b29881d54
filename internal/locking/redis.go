package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is held by another request.
var ErrNotAcquired = errors.New("locking: lock not acquired")

// Locker guards critical sections keyed by an arbitrary string. Admission
// check-and-write sections use an (org, date) key; lifecycle and task
// execution for one appointment use its appointment key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// AdmissionKey scopes the check-then-act section for one org and date.
func AdmissionKey(orgID string, date time.Time) string {
	return fmt.Sprintf("lock:admission:%s:%s", orgID, date.UTC().Format("2006-01-02"))
}

// AppointmentKey serializes lifecycle transitions and task dispatch for one
// appointment.
func AppointmentKey(appointmentID uuid.UUID) string {
	return fmt.Sprintf("lock:appointment:%s", appointmentID)
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker backed by per-key Redis SetNX with a TTL
// bounding how long a crashed holder can block others.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &redisLocker{client: client, ttl: ttl}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("locking: acquire %s: %w", key, err)
	}
	if !ok {
		return ErrNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

// release only deletes the key when the token still matches, so an expired
// lock re-acquired by someone else is never released out from under them.
var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("locking: release %s: %w", key, err)
	}
	return nil
}
