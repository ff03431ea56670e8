package distributed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lease is a Redis-backed ownership lease. At most one holder owns the key
// at a time; the owner keeps it alive by renewing before the TTL runs out.
type Lease struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
	held   atomic.Bool

	onChange func(held bool)
}

func NewLease(client *redis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		key:    key,
		value:  uuid.NewString(),
		ttl:    ttl,
	}
}

// OnChange registers a callback for acquire and loss transitions. Call it
// before Run.
func (l *Lease) OnChange(fn func(held bool)) {
	l.onChange = fn
}

// Held reports whether this instance owned the lease at the last attempt.
func (l *Lease) Held() bool {
	return l.held.Load()
}

// TryAcquire takes the lease if it is free, or renews it if already ours.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if acquired {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	return renewed == 1, nil
}

// Run keeps trying to hold the lease every ttl/3 until ctx is cancelled,
// then releases it. A Redis error counts as losing the lease.
func (l *Lease) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		held, err := l.TryAcquire(ctx)
		if err != nil {
			held = false
		}
		l.set(held)

		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			l.Release(releaseCtx)
			cancel()
			return
		case <-ticker.C:
		}
	}
}

// Release gives the lease up if this instance holds it.
func (l *Lease) Release(ctx context.Context) error {
	l.set(false)
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (l *Lease) set(held bool) {
	if l.held.Swap(held) != held && l.onChange != nil {
		l.onChange(held)
	}
}
