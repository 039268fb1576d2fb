package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv/memkv"
)

func TestResilientStore_PassesThroughSuccess(t *testing.T) {
	store := Wrap(memkv.New())

	added, err := store.TryCommit(context.Background(), "committed", "queued", "1")
	if err != nil || !added {
		t.Fatalf("TryCommit = (%v, %v), want (true, nil)", added, err)
	}
}

func TestResilientStore_RecordsErrorObserver(t *testing.T) {
	var gotOp string
	var gotErr error
	failing := &failingStore{err: errors.New("boom")}

	store := Wrap(failing,
		WithRetryConfig(RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond}),
		WithErrorObserver(func(op string, err error) {
			gotOp = op
			gotErr = err
		}),
	)

	_, err := store.SetCard(context.Background(), "committed")
	if err == nil {
		t.Fatal("SetCard: want error")
	}
	if gotOp != "SetCard" || gotErr == nil {
		t.Errorf("onError callback = (%q, %v), want (SetCard, non-nil)", gotOp, gotErr)
	}
}

func TestResilientStore_CircuitOpensAfterFailures(t *testing.T) {
	failing := &failingStore{err: errors.New("boom")}
	store := Wrap(failing,
		WithRetryConfig(RetryConfig{MaxRetries: 0}),
		WithCircuitBreakerConfig(CircuitBreakerConfig{
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		}),
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := store.SetCard(ctx, "committed"); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := store.SetCard(ctx, "committed")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("SetCard after trip = %v, want ErrCircuitOpen", err)
	}
}

// failingStore implements kv.Store, failing every call with err.
type failingStore struct{ err error }

func (f *failingStore) SetAdd(ctx context.Context, key, member string) (bool, error) { return false, f.err }
func (f *failingStore) SetRemove(ctx context.Context, key, member string) error      { return f.err }
func (f *failingStore) SetContains(ctx context.Context, key, member string) (bool, error) {
	return false, f.err
}
func (f *failingStore) SetCard(ctx context.Context, key string) (int64, error) { return 0, f.err }
func (f *failingStore) ListPushTail(ctx context.Context, key, value string) error { return f.err }
func (f *failingStore) ListPopHeadBlocking(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	return "", false, f.err
}
func (f *failingStore) ListLen(ctx context.Context, key string) (int64, error) { return 0, f.err }
func (f *failingStore) ZSetUpsert(ctx context.Context, key, member string, score float64) error {
	return f.err
}
func (f *failingStore) ZSetScore(ctx context.Context, key, member string) (float64, bool, error) {
	return 0, false, f.err
}
func (f *failingStore) ZSetRemove(ctx context.Context, key, member string) error { return f.err }
func (f *failingStore) ZSetCard(ctx context.Context, key string) (int64, error)  { return 0, f.err }
func (f *failingStore) ZSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return nil, f.err
}
func (f *failingStore) Expire(ctx context.Context, key string, seconds int64) error { return f.err }
func (f *failingStore) Compound(ctx context.Context, ops []kv.Op) error { return f.err }
func (f *failingStore) TryCommit(ctx context.Context, committedKey, queuedKey, id string) (bool, error) {
	return false, f.err
}
func (f *failingStore) PopAndReserve(ctx context.Context, queuedKey, processingKey string, score float64, timeout time.Duration) (string, bool, error) {
	return "", false, f.err
}
func (f *failingStore) Close() error { return nil }
