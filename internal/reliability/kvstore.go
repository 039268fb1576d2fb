package reliability

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
)

// ResilientStore wraps a kv.Store with a circuit breaker per operation
// and bounded retry on transient failures. The blocking operations
// (ListPopHeadBlocking, PopAndReserve) are gated by the breaker but not
// retried here — they already carry their own internal wait/poll loop
// and bound their own timeout. ListPushTail, ListLen and Close are not
// overridden: they go straight to the wrapped store with no breaker and
// no retry.
type ResilientStore struct {
	kv.Store
	breakers *MultiCircuitBreaker
	retry    RetryConfig
	cbConfig CircuitBreakerConfig
	onError  func(op string, err error)
}

// ResilientOption configures a ResilientStore at construction time.
type ResilientOption func(*ResilientStore)

// WithRetryConfig overrides the retry policy used for non-blocking ops.
func WithRetryConfig(cfg RetryConfig) ResilientOption {
	return func(rs *ResilientStore) { rs.retry = cfg }
}

// WithCircuitBreakerConfig overrides the per-operation circuit breaker
// policy.
func WithCircuitBreakerConfig(cfg CircuitBreakerConfig) ResilientOption {
	return func(rs *ResilientStore) { rs.cbConfig = cfg }
}

// WithErrorObserver registers a callback invoked with the operation
// name and error whenever an operation ultimately fails, e.g. to
// increment a metrics.Collector's KVErrors counter.
func WithErrorObserver(fn func(op string, err error)) ResilientOption {
	return func(rs *ResilientStore) { rs.onError = fn }
}

// Wrap builds a ResilientStore around store.
func Wrap(store kv.Store, opts ...ResilientOption) *ResilientStore {
	rs := &ResilientStore{
		Store:    store,
		breakers: NewMultiCircuitBreaker(),
		retry:    RetryConfig{MaxRetries: 2, InitialBackoff: 20 * time.Millisecond, MaxBackoff: 200 * time.Millisecond, Multiplier: 2, Jitter: true},
		cbConfig: CircuitBreakerConfig{MaxRequests: 1, Interval: 30 * time.Second, Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

func (rs *ResilientStore) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	cb := rs.breakers.GetOrCreate(op, rs.cbConfig)
	err := cb.Execute(ctx, func() error {
		return Retry(ctx, rs.retry, fn)
	})
	if err != nil && rs.onError != nil {
		rs.onError(op, err)
	}
	return err
}

func (rs *ResilientStore) SetAdd(ctx context.Context, key, member string) (bool, error) {
	var added bool
	err := rs.call(ctx, "SetAdd", func(ctx context.Context) error {
		var innerErr error
		added, innerErr = rs.Store.SetAdd(ctx, key, member)
		return innerErr
	})
	return added, err
}

func (rs *ResilientStore) SetRemove(ctx context.Context, key, member string) error {
	return rs.call(ctx, "SetRemove", func(ctx context.Context) error {
		return rs.Store.SetRemove(ctx, key, member)
	})
}

func (rs *ResilientStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := rs.call(ctx, "SetContains", func(ctx context.Context) error {
		var innerErr error
		ok, innerErr = rs.Store.SetContains(ctx, key, member)
		return innerErr
	})
	return ok, err
}

func (rs *ResilientStore) SetCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := rs.call(ctx, "SetCard", func(ctx context.Context) error {
		var innerErr error
		n, innerErr = rs.Store.SetCard(ctx, key)
		return innerErr
	})
	return n, err
}

func (rs *ResilientStore) ZSetUpsert(ctx context.Context, key, member string, score float64) error {
	return rs.call(ctx, "ZSetUpsert", func(ctx context.Context) error {
		return rs.Store.ZSetUpsert(ctx, key, member, score)
	})
}

func (rs *ResilientStore) ZSetScore(ctx context.Context, key, member string) (float64, bool, error) {
	var score float64
	var ok bool
	err := rs.call(ctx, "ZSetScore", func(ctx context.Context) error {
		var innerErr error
		score, ok, innerErr = rs.Store.ZSetScore(ctx, key, member)
		return innerErr
	})
	return score, ok, err
}

func (rs *ResilientStore) ZSetRemove(ctx context.Context, key, member string) error {
	return rs.call(ctx, "ZSetRemove", func(ctx context.Context) error {
		return rs.Store.ZSetRemove(ctx, key, member)
	})
}

func (rs *ResilientStore) ZSetCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := rs.call(ctx, "ZSetCard", func(ctx context.Context) error {
		var innerErr error
		n, innerErr = rs.Store.ZSetCard(ctx, key)
		return innerErr
	})
	return n, err
}

func (rs *ResilientStore) ZSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	var ids []string
	err := rs.call(ctx, "ZSetRangeByScore", func(ctx context.Context) error {
		var innerErr error
		ids, innerErr = rs.Store.ZSetRangeByScore(ctx, key, min, max)
		return innerErr
	})
	return ids, err
}

func (rs *ResilientStore) Expire(ctx context.Context, key string, seconds int64) error {
	return rs.call(ctx, "Expire", func(ctx context.Context) error {
		return rs.Store.Expire(ctx, key, seconds)
	})
}

func (rs *ResilientStore) Compound(ctx context.Context, ops []kv.Op) error {
	return rs.call(ctx, "Compound", func(ctx context.Context) error {
		return rs.Store.Compound(ctx, ops)
	})
}

func (rs *ResilientStore) TryCommit(ctx context.Context, committedKey, queuedKey, id string) (bool, error) {
	var added bool
	err := rs.call(ctx, "TryCommit", func(ctx context.Context) error {
		var innerErr error
		added, innerErr = rs.Store.TryCommit(ctx, committedKey, queuedKey, id)
		return innerErr
	})
	return added, err
}

// PopAndReserve is gated by the breaker but not wrapped in Retry: it
// already polls internally until timeout, and retrying it would only
// multiply that wait.
func (rs *ResilientStore) PopAndReserve(ctx context.Context, queuedKey, processingKey string, score float64, timeout time.Duration) (string, bool, error) {
	cb := rs.breakers.GetOrCreate("PopAndReserve", rs.cbConfig)
	var id string
	var ok bool
	err := cb.Execute(ctx, func() error {
		var innerErr error
		id, ok, innerErr = rs.Store.PopAndReserve(ctx, queuedKey, processingKey, score, timeout)
		return innerErr
	})
	if err != nil && rs.onError != nil {
		rs.onError("PopAndReserve", err)
	}
	return id, ok, err
}

// ListPopHeadBlocking is gated by the breaker but not retried, for the
// same reason as PopAndReserve.
func (rs *ResilientStore) ListPopHeadBlocking(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	cb := rs.breakers.GetOrCreate("ListPopHeadBlocking", rs.cbConfig)
	var value string
	var ok bool
	err := cb.Execute(ctx, func() error {
		var innerErr error
		value, ok, innerErr = rs.Store.ListPopHeadBlocking(ctx, key, timeout)
		return innerErr
	})
	if err != nil && rs.onError != nil {
		rs.onError("ListPopHeadBlocking", err)
	}
	return value, ok, err
}
