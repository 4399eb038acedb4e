package redis

import (
	"context"
	"strconv"
	"time"

	"attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LockStore implements app.LockStore on Redis. Every transition runs as one
// Lua script, so the conditional state change is atomic server-side; there
// is no check-then-insert window for concurrent callers to slip through.
//
// Keys carry TTLs sized to their phase: a held lock expires after heldTTL
// (so a crashed process cannot block a student forever) and a settled lock
// expires with its eligibility window. Because the keys live in Redis, the
// invariant survives process restarts within the window.
type LockStore struct {
	client  *redis.Client
	heldTTL time.Duration
	clock   func() time.Time
}

// NewLockStore builds a store whose held locks self-free after heldTTL.
// heldTTL should comfortably exceed the exam duration plus submit grace.
func NewLockStore(client *redis.Client, heldTTL time.Duration) *LockStore {
	return &LockStore{client: client, heldTTL: heldTTL, clock: time.Now}
}

// NewLockStoreWithClock is test-only for deterministic window expiry.
func NewLockStoreWithClock(client *redis.Client, heldTTL time.Duration, clock func() time.Time) *LockStore {
	return &LockStore{client: client, heldTTL: heldTTL, clock: clock}
}

var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[5])
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'held' then return 0 end
if state == 'settled' then
  local exp = tonumber(redis.call('HGET', KEYS[1], 'windowExpiresAt'))
  if exp and exp > now then return 0 end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'state', 'held',
  'heldBy', ARGV[1],
  'userId', ARGV[2],
  'email', ARGV[3],
  'quizId', ARGV[4],
  'acquiredAt', now,
  'windowExpiresAt', now + tonumber(ARGV[6]))
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[7]))
redis.call('SET', KEYS[2], KEYS[1], 'EX', tonumber(ARGV[7]))
return 1
`)

var finalizeScript = redis.NewScript(`
local lockKey = redis.call('GET', KEYS[1])
if not lockKey then return 0 end
if redis.call('HGET', lockKey, 'state') ~= 'held' then return 0 end
if redis.call('HGET', lockKey, 'heldBy') ~= ARGV[1] then return 0 end
redis.call('HSET', lockKey, 'state', 'settled')
local exp = tonumber(redis.call('HGET', lockKey, 'windowExpiresAt'))
local ttl = exp - tonumber(ARGV[2])
if ttl > 0 then
  redis.call('EXPIRE', lockKey, ttl)
else
  redis.call('DEL', lockKey)
end
return lockKey
`)

var releaseScript = redis.NewScript(`
local lockKey = redis.call('GET', KEYS[1])
redis.call('DEL', KEYS[1])
if not lockKey then return 0 end
if redis.call('HGET', lockKey, 'heldBy') ~= ARGV[1] then return 0 end
redis.call('DEL', lockKey)
return 1
`)

func (s *LockStore) Acquire(ctx context.Context, identity domain.Identity, quizID, token string, window time.Duration) error {
	now := s.clock().Unix()
	res, err := acquireScript.Run(ctx, s.client,
		[]string{s.lockKey(identity, quizID), s.tokenKey(token)},
		token, identity.UserID, identity.Email, quizID,
		now, int64(window/time.Second), int64(s.heldTTL/time.Second),
	).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return domain.ErrAlreadyAttempted
	}
	return nil
}

func (s *LockStore) Finalize(ctx context.Context, token string) (domain.AttemptLock, error) {
	res, err := finalizeScript.Run(ctx, s.client,
		[]string{s.tokenKey(token)},
		token, s.clock().Unix(),
	).Result()
	if err != nil {
		return domain.AttemptLock{}, err
	}
	lockKey, ok := res.(string)
	if !ok {
		return domain.AttemptLock{}, domain.ErrAlreadySettled
	}

	fields, err := s.client.HGetAll(ctx, lockKey).Result()
	if err != nil {
		return domain.AttemptLock{}, err
	}
	return lockFromFields(fields), nil
}

func (s *LockStore) Release(ctx context.Context, token string) error {
	return releaseScript.Run(ctx, s.client, []string{s.tokenKey(token)}, token).Err()
}

func (s *LockStore) Peek(ctx context.Context, identity domain.Identity, quizID string) (bool, error) {
	fields, err := s.client.HGetAll(ctx, s.lockKey(identity, quizID)).Result()
	if err != nil {
		return false, err
	}
	if len(fields) == 0 {
		return false, nil
	}
	switch domain.LockState(fields["state"]) {
	case domain.LockHeld:
		return true, nil
	case domain.LockSettled:
		exp, _ := strconv.ParseInt(fields["windowExpiresAt"], 10, 64)
		return exp > s.clock().Unix(), nil
	}
	return false, nil
}

func (s *LockStore) lockKey(identity domain.Identity, quizID string) string {
	return "attempt:lock:" + identity.Key(quizID)
}

func (s *LockStore) tokenKey(token string) string {
	return "attempt:token:" + token
}

func lockFromFields(fields map[string]string) domain.AttemptLock {
	acquired, _ := strconv.ParseInt(fields["acquiredAt"], 10, 64)
	expires, _ := strconv.ParseInt(fields["windowExpiresAt"], 10, 64)
	return domain.AttemptLock{
		Identity: domain.Identity{
			UserID: fields["userId"],
			Email:  fields["email"],
		},
		QuizID:          fields["quizId"],
		State:           domain.LockState(fields["state"]),
		HeldBy:          fields["heldBy"],
		AcquiredAt:      time.Unix(acquired, 0),
		WindowExpiresAt: time.Unix(expires, 0),
	}
}
