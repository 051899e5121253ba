package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockKind names the operation family a subject lock guards.
type LockKind string

const (
	LockSubmit  LockKind = "submit"
	LockResolve LockKind = "resolve"
	LockBalance LockKind = "balance"
	LockRedeem  LockKind = "redeem"
	LockJoin    LockKind = "join"
	LockQueue   LockKind = "queue"
)

// LockKey renders the (kind, subject) pair.
func LockKey(kind LockKind, subjectID string) string {
	return fmt.Sprintf("lock:%s:%s", kind, subjectID)
}

// Locker is an advisory, non-blocking lock table.
type Locker interface {
	// Acquire returns ok=false without waiting when key is already held.
	// The token identifies this holder and must be passed to Release.
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	// Release frees key only while it is still held under token.
	Release(ctx context.Context, key, token string) error
}

// WithLock runs fn while holding the (kind, subject) lock. A held lock yields ErrLockBusy immediately.
func WithLock(ctx context.Context, l Locker, kind LockKind, subjectID string, fn func() error) error {
	key := LockKey(kind, subjectID)
	token, ok, err := l.Acquire(ctx, key)
	if err != nil {
		return internal("acquire lock", err)
	}
	if !ok {
		return &Error{Code: CodeLockBusy, Message: fmt.Sprintf("%s already in progress", kind)}
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx), key, token); err != nil {
			log.Printf("[ERROR] [LOCK] release %s: %v", key, err)
		}
	}()
	return fn()
}

// MemoryLocker keeps locks in process memory.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]string)}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return "", false, nil
	}
	token := uuid.NewString()
	m.held[key] = token
	return token, true, nil
}

func (m *MemoryLocker) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

// Held reports whether key is currently locked.
func (m *MemoryLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// KEYS[1] = lock key, ARGV[1] = owner token
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between replicas. Each lock expires after TTL so a crashed holder cannot wedge a subject.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// NewRedisClient builds the client used by RedisLocker.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis lock error: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisLocker) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseLockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis unlock error: %w", err)
	}
	return nil
}
