package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work per session id. Lock blocks until the lock for id
// is held or ctx is done. The returned unlock func is safe to call more than
// once.
type Locker interface {
	Lock(ctx context.Context, id string) (unlock func(), err error)
}

// Locks is an in-process [Locker]. Entries are reference counted and dropped
// when the last holder unlocks. It only serializes callers sharing the same
// value, so gateways sharing a [RedisStore] need a [RedisLocker] instead.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	held chan struct{}
	refs int
}

// NewLocks returns an empty lock arena.
func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

func (l *Locks) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{held: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.held <- struct{}{}:
	case <-ctx.Done():
		l.release(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.held
			l.release(id, e)
		})
	}, nil
}

func (l *Locks) release(id string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

const (
	DefaultLockPrefix = "ucp:lock:"
	// DefaultLockLease bounds how long a crashed holder can keep a session
	// locked. It must exceed the longest critical section, which never
	// includes order placement.
	DefaultLockLease = time.Minute
	DefaultLockRetry = 25 * time.Millisecond
)

// ErrLockLost is reported on release when the lease had already expired.
var ErrLockLost = errors.New("session: lock lease expired before release")

// releaseScript deletes the lock only while it still carries our token.
// KEYS[1] = lock key
// ARGV[1] = holder token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a [Locker] shared by every gateway pointed at the same
// Redis. Each lock is a SET NX PX lease holding a random token.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	lease  time.Duration
	retry  time.Duration
	logf   func(id string, err error)
}

// RedisLockOption customizes a [RedisLocker].
type RedisLockOption func(*RedisLocker)

// WithLockPrefix overrides [DefaultLockPrefix].
func WithLockPrefix(prefix string) RedisLockOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// WithLockLease overrides [DefaultLockLease].
func WithLockLease(lease time.Duration) RedisLockOption {
	return func(l *RedisLocker) {
		if lease > 0 {
			l.lease = lease
		}
	}
}

// WithLockRetry sets how often a contended lock is polled.
func WithLockRetry(every time.Duration) RedisLockOption {
	return func(l *RedisLocker) {
		if every > 0 {
			l.retry = every
		}
	}
}

// WithReleaseErrorHandler is called when releasing a lock fails, including
// with [ErrLockLost].
func WithReleaseErrorHandler(fn func(id string, err error)) RedisLockOption {
	return func(l *RedisLocker) {
		l.logf = fn
	}
}

func NewRedisLocker(client redis.UniversalClient, opts ...RedisLockOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: DefaultLockPrefix,
		lease:  DefaultLockLease,
		retry:  DefaultLockRetry,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(l)
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, id string) (func(), error) {
	key := l.prefix + id
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("session: redis lock %s: %w", id, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be canceled.
			n, err := releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Int()
			if err == nil && n == 0 {
				err = ErrLockLost
			}
			if err != nil && l.logf != nil {
				l.logf(id, err)
			}
		})
	}, nil
}
