package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// RedisStore persists sessions in Redis. Each session lives under its own
// key with a TTL, and an account index set tracks the tokens that belong
// to each account.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore]. prefix sets the Redis key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ag"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + ":s:" + token
}

func (s *RedisStore) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Save persists the session and resets its TTL.
//
//	Performance: 2 Redis commands (SET + SADD) in one transaction.
func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data := encodeSession(sess)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.Token), data, ttl)
		pipe.SAdd(ctx, s.accountKey(sess.AccountID), sess.Token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads a session by token.
//
//	Performance: 1 Redis GET.
func (s *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	sess.Token = token
	return sess, nil
}

// Delete removes a session and its index entry atomically.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := decodeSession(data)
	if err != nil {
		return err
	}

	keys := []string{s.key(token), s.accountKey(sess.AccountID)}
	if _, err := deleteSessionLua.Run(ctx, s.redis, keys, token).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAllForAccount removes every session of the account.
//
// ATOMICITY NOTE: This operation is NOT fully atomic. It reads the account's
// token set (SMembers) and then deletes the session keys and the index in a
// transaction. A session created between the read and delete phases will not
// be captured by this call. The race is narrow and only affects logout-all
// semantics; the stray session expires naturally or is caught by the next
// DeleteAllForAccount invocation.
func (s *RedisStore) DeleteAllForAccount(ctx context.Context, accountID string) ([]string, error) {
	accountKey := s.accountKey(accountID)

	tokens, err := s.redis.SMembers(ctx, accountKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, s.key(token))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.Del(ctx, accountKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return tokens, nil
}

// ActiveTokens lists the live tokens of the account. Index entries whose
// session key already expired are pruned as a side effect.
func (s *RedisStore) ActiveTokens(ctx context.Context, accountID string) ([]string, error) {
	accountKey := s.accountKey(accountID)

	tokens, err := s.redis.SMembers(ctx, accountKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(tokens))
	for i, token := range tokens {
		existsCmds[i] = pipe.Exists(ctx, s.key(token))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	live := make([]string, 0, len(tokens))
	var stale []interface{}
	for i, cmd := range existsCmds {
		n, cmdErr := cmd.Result()
		if cmdErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}
		if n == 1 {
			live = append(live, tokens[i])
		} else {
			stale = append(stale, tokens[i])
		}
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, accountKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return live, nil
}

// ActiveCount reports how many live sessions the account holds.
func (s *RedisStore) ActiveCount(ctx context.Context, accountID string) (int, error) {
	tokens, err := s.ActiveTokens(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
