package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MemoryLocker holds per-key locks in process. Entries are reference
// counted and removed once no goroutine holds or waits for them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
	wait  time.Duration
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker. A positive wait bounds how
// long Lock blocks in addition to the caller's context.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock), wait: wait}
}

// Lock acquires key.
func (m *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	if m.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.wait)
		defer cancel()
	}

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, l)
		return nil, fmt.Errorf("%w: lock %s: %v", domain.ErrPersistenceConflict, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.release(key, l)
		})
	}, nil
}

func (m *MemoryLocker) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (m *MemoryLocker) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// releaseScript deletes the lock only if it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLockerConfig configures RedisLocker.
type RedisLockerConfig struct {
	Prefix       string
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
}

// RedisLocker implements Locker with SET NX PX so several server processes
// can share one session database.
type RedisLocker struct {
	client   redis.Cmdable
	cfg      RedisLockerConfig
	newToken func() string
	logger   *slog.Logger
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.Cmdable, cfg RedisLockerConfig, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "lendflow:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &RedisLocker{
		client:   client,
		cfg:      cfg,
		newToken: func() string { return uuid.NewString() },
		logger:   logger,
	}
}

// Lock polls SET NX until the key is acquired, the wait elapses or ctx ends.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if r.cfg.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Wait)
		defer cancel()
	}

	redisKey := r.cfg.Prefix + key
	token := r.newToken()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.cfg.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: lock %s: %v", domain.ErrPersistenceConflict, key, ctx.Err())
			}
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: lock %s: %v", domain.ErrPersistenceConflict, key, ctx.Err())
		case <-time.After(r.cfg.PollInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				// The TTL frees the key eventually.
				r.logger.Warn("Failed to release redis lock", "key", key, "error", err)
			}
		})
	}, nil
}
