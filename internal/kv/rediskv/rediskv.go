// Package rediskv implements kv.Store against a shared Redis instance
// with github.com/redis/go-redis/v9, making it the KV primitives any
// number of convoy processes can coordinate through. Grounded on the
// go-redis/v9 client pinned by the flyingrobots-go-redis-work-queue
// reference implementation of a Redis-backed job queue.
package rediskv

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
)

// Config configures the Redis connection backing a Store.
type Config struct {
	Addr        string
	Database    int
	Username    string
	Password    string
	DialTimeout time.Duration
	TLS         *tls.Config

	// PollInterval bounds how often PopAndReserve retries its
	// non-blocking reservation script while waiting for a job to
	// appear. Real BLPOP cannot be combined atomically with the ZADD
	// reservation inside a single Lua script (scripts may not block),
	// so the wait is a bounded poll loop rather than one blocking call.
	PollInterval time.Duration
}

// Store adapts a *redis.Client to kv.Store.
type Store struct {
	client *redis.Client
	poll   time.Duration
}

// New dials Redis and returns a ready Store.
func New(cfg Config) *Store {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		DB:          cfg.Database,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		TLSConfig:   cfg.TLS,
	})

	return &Store{client: client, poll: cfg.PollInterval}
}

// FromClient wraps an already-constructed client, e.g. one pointed at
// miniredis in tests.
func FromClient(client *redis.Client, pollInterval time.Duration) *Store {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &Store{client: client, poll: pollInterval}
}

func (s *Store) Close() error { return s.client.Close() }

func wrap(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return fmt.Errorf("%w: %v", kv.ErrUnavailable, err)
}

func (s *Store) SetAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	return n > 0, wrap(err)
}

func (s *Store) SetRemove(ctx context.Context, key, member string) error {
	return wrap(s.client.SRem(ctx, key, member).Err())
}

func (s *Store) SetContains(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	return ok, wrap(err)
}

func (s *Store) SetCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	return n, wrap(err)
}

func (s *Store) ListPushTail(ctx context.Context, key, value string) error {
	return wrap(s.client.RPush(ctx, key, value).Err())
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	return n, wrap(err)
}

func (s *Store) ListPopHeadBlocking(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	res, err := s.client.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	// BLPop returns [key, value].
	return res[1], true, nil
}

func (s *Store) ZSetUpsert(ctx context.Context, key, member string, score float64) error {
	return wrap(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *Store) ZSetScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap(err)
	}
	return score, true, nil
}

func (s *Store) ZSetRemove(ctx context.Context, key, member string) error {
	return wrap(s.client.ZRem(ctx, key, member).Err())
}

func (s *Store) ZSetCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	return n, wrap(err)
}

func (s *Store) ZSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
	return ids, wrap(err)
}

func (s *Store) Expire(ctx context.Context, key string, seconds int64) error {
	return wrap(s.client.Expire(ctx, key, time.Duration(seconds)*time.Second).Err())
}

// Compound executes every op in a single MULTI/EXEC transaction.
func (s *Store) Compound(ctx context.Context, ops []kv.Op) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range ops {
			switch op.Kind {
			case kv.OpSetAdd:
				pipe.SAdd(ctx, op.Key, op.Member)
			case kv.OpSetRemove:
				pipe.SRem(ctx, op.Key, op.Member)
			case kv.OpZSetUpsert:
				pipe.ZAdd(ctx, op.Key, redis.Z{Score: op.Score, Member: op.Member})
			case kv.OpZSetRemove:
				pipe.ZRem(ctx, op.Key, op.Member)
			case kv.OpListPushTail:
				pipe.RPush(ctx, op.Key, op.Member)
			case kv.OpExpire:
				pipe.Expire(ctx, op.Key, time.Duration(op.Seconds)*time.Second)
			}
		}
		return nil
	})
	return wrap(err)
}

// tryCommitScript conditionally admits id: it adds id to the committed
// set and, only if that insertion actually happened, pushes id onto
// the queued list. Running both steps inside one script is what makes
// admission linearizable across racing convoys.
var tryCommitScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
if added == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
end
return added
`)

func (s *Store) TryCommit(ctx context.Context, committedKey, queuedKey, id string) (bool, error) {
	n, err := tryCommitScript.Run(ctx, s.client, []string{committedKey, queuedKey}, id).Int()
	if err != nil {
		return false, wrap(err)
	}
	return n == 1, nil
}

// popAndReserveScript atomically pops the head of the queued list and,
// if something was popped, reserves it in the processing zset with
// score. Both steps in one script closes the crash window between a
// plain pop and a later, separate reservation write.
var popAndReserveScript = redis.NewScript(`
local v = redis.call('LPOP', KEYS[1])
if v then
	redis.call('ZADD', KEYS[2], ARGV[1], v)
	return v
end
return false
`)

// PopAndReserve polls the atomic pop-and-reserve script until it
// yields an id or timeout elapses. A plain BLPOP cannot be composed
// atomically with the ZADD reservation (Redis scripts may not block),
// so the wait is a bounded poll loop rather than a single blocking
// call; see rediskv.Config.PollInterval.
func (s *Store) PopAndReserve(ctx context.Context, queuedKey, processingKey string, score float64, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		v, err := popAndReserveScript.Run(ctx, s.client, []string{queuedKey, processingKey}, score).Text()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", false, wrap(err)
		}
		if v != "" {
			return v, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-ticker.C:
		case <-time.After(remaining):
			return "", false, nil
		}
	}
}
