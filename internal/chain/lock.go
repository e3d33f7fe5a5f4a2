package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	signerLockPrefix     = "signer-lock"
	defaultSignerLockTTL = 30 * time.Second
	signerLockRetry      = 100 * time.Millisecond
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SignerLock serializes broadcasts per signing address. Goroutines in this
// process share a mutex; separate processes coordinate through a Redis lease.
type SignerLock struct {
	redis redis.Cmdable
	ttl   time.Duration

	mu    sync.Mutex
	local map[common.Address]chan struct{}
}

// NewSignerLock returns an in-process lock when rdb is nil.
func NewSignerLock(rdb redis.Cmdable, ttl time.Duration) *SignerLock {
	if ttl <= 0 {
		ttl = defaultSignerLockTTL
	}
	return &SignerLock{
		redis: rdb,
		ttl:   ttl,
		local: make(map[common.Address]chan struct{}),
	}
}

func (l *SignerLock) slotFor(addr common.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.local[addr]
	if !ok {
		slot = make(chan struct{}, 1)
		l.local[addr] = slot
	}
	return slot
}

// Acquire blocks until addr is free or ctx ends. The returned func releases it.
func (l *SignerLock) Acquire(ctx context.Context, addr common.Address) (func(), error) {
	slot := l.slotFor(addr)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	unlock := func() { <-slot }
	if l.redis == nil {
		return unlock, nil
	}

	key := fmt.Sprintf("%s:%s", signerLockPrefix, strings.ToLower(addr.Hex()))
	token := uuid.NewString()
	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			unlock()
			return nil, fmt.Errorf("acquire signer lease: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlock()
			return nil, ctx.Err()
		case <-time.After(signerLockRetry):
		}
	}

	stopRenew := make(chan struct{})
	renewed := make(chan struct{})
	go l.renew(key, token, stopRenew, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopRenew)
			<-renewed
			// Release with a fresh context so a cancelled caller still frees the lease.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.redis, []string{key}, token).Err(); err != nil && err != redis.Nil {
				zap.L().Warn("release signer lease failed", zap.String("key", key), zap.Error(err))
			}
			unlock()
		})
	}, nil
}

// renewInterval is how often a held lease is extended: three times per TTL.
func (l *SignerLock) renewInterval() time.Duration {
	return l.ttl / 3
}

// renew keeps the lease alive while a broadcast is in flight, so a slow RPC
// cannot let another process take the signer and reuse the nonce.
func (l *SignerLock) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renewInterval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.renewInterval())
			kept, err := renewScript.Run(ctx, l.redis, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				zap.L().Warn("renew signer lease failed", zap.String("key", key), zap.Error(err))
			case kept == 0:
				zap.L().Error("signer lease lost while held", zap.String("key", key))
				return
			}
		}
	}
}
