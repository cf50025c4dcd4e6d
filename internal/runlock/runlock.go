// Package runlock guards the pipeline against concurrent runs. The lock is a
// redis SET-NX with TTL; release is a compare-and-delete so a worker can only
// release its own lease. When redis is unreachable the lock degrades to a
// process-local flag, which still protects a single-node deployment.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"veilleur/internal/logger"
)

// ErrPipelineBusy is returned when another run already holds the lock.
var ErrPipelineBusy = errors.New("pipeline run already in progress")

// releaseScript deletes the key only when it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Locker acquires the single-run lease.
type Locker interface {
	Acquire(ctx context.Context) (*Lease, error)
}

// Lease is a held lock. Release is idempotent.
type Lease struct {
	once    sync.Once
	release func(ctx context.Context) error
}

// Release frees the lease. Calling it twice is safe.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() { err = l.release(ctx) })
	return err
}

// RedisLock is the cluster-wide lock with local fallback.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	local  LocalLock
}

// NewRedisLock creates a lock on the given redis key with the given TTL
// (default 1 hour). The TTL bounds how long a crashed worker can wedge the
// pipeline.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock or fails with ErrPipelineBusy. Infrastructure
// failures fall back to the process-local flag with a warning.
func (l *RedisLock) Acquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		logger.Warn("Run lock falling back to process-local mode", "error", err.Error())
		return l.local.Acquire(ctx)
	}
	if !ok {
		return nil, ErrPipelineBusy
	}

	return &Lease{release: func(ctx context.Context) error {
		res, err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Result()
		if err != nil {
			return fmt.Errorf("failed to release run lock: %w", err)
		}
		if n, _ := res.(int64); n == 0 {
			// Lease expired and someone else took over; nothing to release.
			logger.Warn("Run lock was no longer held at release", "key", l.key)
		}
		return nil
	}}, nil
}

// LocalLock is the in-process fallback, also used by simulation runs.
type LocalLock struct {
	mu   sync.Mutex
	held bool
}

// Acquire takes the process-local flag or fails with ErrPipelineBusy.
func (l *LocalLock) Acquire(_ context.Context) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, ErrPipelineBusy
	}
	l.held = true
	return &Lease{release: func(context.Context) error {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		return nil
	}}, nil
}
