package memkv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
)

func TestStore_SetAdd(t *testing.T) {
	s := New()
	ctx := context.Background()

	added, err := s.SetAdd(ctx, "k", "1")
	if err != nil || !added {
		t.Fatalf("first SetAdd = (%v, %v), want (true, nil)", added, err)
	}

	added, err = s.SetAdd(ctx, "k", "1")
	if err != nil || added {
		t.Fatalf("second SetAdd = (%v, %v), want (false, nil)", added, err)
	}

	card, err := s.SetCard(ctx, "k")
	if err != nil || card != 1 {
		t.Fatalf("SetCard = (%d, %v), want (1, nil)", card, err)
	}
}

func TestStore_ListPopHeadBlocking_Immediate(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.ListPushTail(ctx, "q", "a"); err != nil {
		t.Fatal(err)
	}

	v, ok, err := s.ListPopHeadBlocking(ctx, "q", time.Second)
	if err != nil || !ok || v != "a" {
		t.Fatalf("ListPopHeadBlocking = (%q, %v, %v), want (a, true, nil)", v, ok, err)
	}
}

func TestStore_ListPopHeadBlocking_Timeout(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, ok, err := s.ListPopHeadBlocking(ctx, "empty", 30*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("ListPopHeadBlocking on empty = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestStore_ListPopHeadBlocking_WakesOnPush(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var got string
	var ok bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, ok, _ = s.ListPopHeadBlocking(ctx, "q", 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.ListPushTail(ctx, "q", "late"); err != nil {
		t.Fatal(err)
	}

	wg.Wait()
	if !ok || got != "late" {
		t.Fatalf("blocking pop got (%q, %v), want (late, true)", got, ok)
	}
}

func TestStore_ZSetUpsertScoreRemove(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.ZSetUpsert(ctx, "z", "1", 100); err != nil {
		t.Fatal(err)
	}

	score, ok, err := s.ZSetScore(ctx, "z", "1")
	if err != nil || !ok || score != 100 {
		t.Fatalf("ZSetScore = (%v, %v, %v), want (100, true, nil)", score, ok, err)
	}

	if err := s.ZSetRemove(ctx, "z", "1"); err != nil {
		t.Fatal(err)
	}

	_, ok, err = s.ZSetScore(ctx, "z", "1")
	if err != nil || ok {
		t.Fatalf("ZSetScore after remove = (_, %v, %v), want (false, nil)", ok, err)
	}
}

func TestStore_ZSetRangeByScore(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.ZSetUpsert(ctx, "z", "old", 10)
	_ = s.ZSetUpsert(ctx, "z", "new", 1000)

	ids, err := s.ZSetRangeByScore(ctx, "z", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("ZSetRangeByScore(0,100) = %v, want [old]", ids)
	}
}

func TestStore_TryCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	added, err := s.TryCommit(ctx, "committed", "queued", "1")
	if err != nil || !added {
		t.Fatalf("first TryCommit = (%v, %v), want (true, nil)", added, err)
	}

	added, err = s.TryCommit(ctx, "committed", "queued", "1")
	if err != nil || added {
		t.Fatalf("second TryCommit = (%v, %v), want (false, nil)", added, err)
	}

	l, err := s.ListLen(ctx, "queued")
	if err != nil || l != 1 {
		t.Fatalf("ListLen(queued) = (%d, %v), want (1, nil)", l, err)
	}
}

func TestStore_PopAndReserve(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _ = s.TryCommit(ctx, "committed", "queued", "1")

	id, ok, err := s.PopAndReserve(ctx, "queued", "processing", 500, time.Second)
	if err != nil || !ok || id != "1" {
		t.Fatalf("PopAndReserve = (%q, %v, %v), want (1, true, nil)", id, ok, err)
	}

	score, ok, err := s.ZSetScore(ctx, "processing", "1")
	if err != nil || !ok || score != 500 {
		t.Fatalf("ZSetScore(processing,1) = (%v, %v, %v), want (500, true, nil)", score, ok, err)
	}
}

func TestStore_Compound(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _ = s.SetAdd(ctx, "committed", "1")
	_ = s.ZSetUpsert(ctx, "processing", "1", 100)

	err := s.Compound(ctx, []kv.Op{
		kv.SetRemove("committed", "1"),
		kv.ZSetRemove("processing", "1"),
		kv.ZSetUpsert("failed", "1", 200),
		kv.ListPushTail("errorLog.0", "boom"),
		kv.Expire("errorLog.0", 3600),
	})
	if err != nil {
		t.Fatal(err)
	}

	contains, _ := s.SetContains(ctx, "committed", "1")
	if contains {
		t.Error("committed should no longer contain 1")
	}

	_, ok, _ := s.ZSetScore(ctx, "processing", "1")
	if ok {
		t.Error("processing should no longer contain 1")
	}

	card, _ := s.ZSetCard(ctx, "failed")
	if card != 1 {
		t.Errorf("failed card = %d, want 1", card)
	}

	ttl, ok := s.TTL("errorLog.0")
	if !ok || ttl <= 0 || ttl > 3601*time.Second {
		t.Errorf("TTL(errorLog.0) = (%v, %v), want a positive duration <= 3601s", ttl, ok)
	}
}
