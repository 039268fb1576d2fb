package benchmark

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/convoy/internal/kv/memkv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/pool"
	"github.com/therealutkarshpriyadarshi/convoy/internal/queue"
	"github.com/therealutkarshpriyadarshi/convoy/pkg/job"
)

// BenchmarkAddJob benchmarks job admission throughput against memkv.
func BenchmarkAddJob(b *testing.B) {
	store := memkv.New()
	defer store.Close()

	q := queue.New("bench", "convoy:", store, queue.Config{}, nil)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := q.AddJob(ctx, job.New(fmt.Sprintf("job-%d", i))); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "jobs/sec")
}

// BenchmarkAddJobDuplicate benchmarks the dedup-admission fast path when
// every job id has already been committed.
func BenchmarkAddJobDuplicate(b *testing.B) {
	store := memkv.New()
	defer store.Close()

	q := queue.New("bench", "convoy:", store, queue.Config{}, nil)
	ctx := context.Background()

	if _, err := q.AddJob(ctx, job.New("dup")); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := q.AddJob(ctx, job.New("dup")); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "jobs/sec")
}

// BenchmarkDispatchThroughput benchmarks full dispatch-loop throughput:
// admission followed by handler execution, against memkv.
func BenchmarkDispatchThroughput(b *testing.B) {
	store := memkv.New()
	defer store.Close()

	q := queue.New("bench", "convoy:", store, queue.Config{ConcurrentWorkers: 8}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var completed int64
	handler := func(_ context.Context, _ job.Job, complete queue.CompleteFunc) {
		if atomic.AddInt64(&completed, 1) == int64(b.N) {
			close(done)
		}
		complete(nil)
	}

	if err := q.StartProcessing(ctx, handler); err != nil {
		b.Fatal(err)
	}
	defer q.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := q.AddJob(ctx, job.New(fmt.Sprintf("job-%d", i))); err != nil {
			b.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		b.Fatal("dispatch did not drain within 30s")
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "jobs/sec")
}

// BenchmarkPayloadPooling compares payload-map allocation with and
// without pool.PayloadPool.
func BenchmarkPayloadPooling(b *testing.B) {
	b.Run("WithoutPool", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			payload := make(map[string]interface{}, 8)
			payload["attempt"] = i
			_ = payload
		}
	})

	b.Run("WithPool", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			payload := pool.GetPayload()
			payload["attempt"] = i
			pool.PutPayload(payload)
		}
	})
}

// BenchmarkJamGuardScan benchmarks a ClearJammedJobs pass over a
// processing set with no jammed entries (the common case).
func BenchmarkJamGuardScan(b *testing.B) {
	store := memkv.New()
	defer store.Close()

	q := queue.New("bench", "convoy:", store, queue.Config{}, nil)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if _, err := q.AddJob(ctx, job.New(fmt.Sprintf("job-%d", i))); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := q.ClearJammedJobs(ctx, time.Hour); err != nil {
			b.Fatal(err)
		}
	}
}
