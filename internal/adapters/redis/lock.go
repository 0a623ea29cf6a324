package redis

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// refreshScript extends the lock when the caller already holds it, takes it
// when nobody does, and refuses when another holder owns it.
var refreshScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
if not current then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0
`)

// LockKey is the `seat:<id>:lock` key. The reconciler's expiry filter
// depends on this exact shape.
func LockKey(seatID string) string {
	return seatKeyPrefix + seatID + lockKeySuffix
}

// SeatIDFromLockKey extracts the seat id from a lock key.
func SeatIDFromLockKey(key string) (string, bool) {
	if !strings.HasPrefix(key, seatKeyPrefix) || !strings.HasSuffix(key, lockKeySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, seatKeyPrefix), lockKeySuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

type SeatLock struct {
	client *redis.Client
}

func NewSeatLock(client *redis.Client) *SeatLock {
	return &SeatLock{client: client}
}

// Acquire sets the lock only if it is absent (SET NX PX). It returns false
// when the seat is already locked, whoever the holder is.
func (l *SeatLock) Acquire(ctx context.Context, seatID, holderID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, LockKey(seatID), holderID, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "acquire lock for seat %s", seatID)
	}
	return ok, nil
}

// Release deletes the lock. Releasing an absent lock is a no-op.
func (l *SeatLock) Release(ctx context.Context, seatID string) error {
	return errors.Wrapf(l.client.Del(ctx, LockKey(seatID)).Err(), "release lock for seat %s", seatID)
}

func (l *SeatLock) Refresh(ctx context.Context, seatID, holderID string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{LockKey(seatID)}, holderID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrapf(err, "refresh lock for seat %s", seatID)
	}
	return n == 1, nil
}

// Holder returns the identity currently holding the lock, or "" when the
// seat is not locked.
func (l *SeatLock) Holder(ctx context.Context, seatID string) (string, error) {
	holder, err := l.client.Get(ctx, LockKey(seatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read lock for seat %s", seatID)
	}
	return holder, nil
}
