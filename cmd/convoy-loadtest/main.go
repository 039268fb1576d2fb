package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/convoy/internal/convoy"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv/memkv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv/rediskv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/logging"
	"github.com/therealutkarshpriyadarshi/convoy/internal/queue"
	"github.com/therealutkarshpriyadarshi/convoy/pkg/job"
)

var (
	targetRate     = flag.Int("rate", 1000, "Target jobs admitted per second")
	duration       = flag.Int("duration", 60, "Test duration in seconds")
	producers      = flag.Int("producers", 4, "Number of producer goroutines")
	workers        = flag.Int("workers", 8, "Concurrent handler workers")
	duplicateRate  = flag.Float64("duplicate-rate", 0.0, "Fraction of job ids that are deliberate duplicates")
	redisAddr      = flag.String("redis-addr", "", "Redis address; empty uses an in-memory store")
	reportInterval = flag.Int("interval", 5, "Report interval in seconds")
)

// Stats tracks load test statistics.
type Stats struct {
	jobsAdded     uint64
	jobsDuplicate uint64
	jobsCompleted uint64
	jobsFailed    uint64
	addErrors     uint64
	startTime     time.Time
}

func (s *Stats) Report() {
	elapsed := time.Since(s.startTime).Seconds()
	added := atomic.LoadUint64(&s.jobsAdded)
	dup := atomic.LoadUint64(&s.jobsDuplicate)
	completed := atomic.LoadUint64(&s.jobsCompleted)
	failed := atomic.LoadUint64(&s.jobsFailed)
	addErrors := atomic.LoadUint64(&s.addErrors)

	fmt.Printf("\n=== Load Test Statistics ===\n")
	fmt.Printf("Duration: %.2f seconds\n", elapsed)
	fmt.Printf("Jobs Added: %d (%.0f/sec)\n", added, float64(added)/elapsed)
	fmt.Printf("Jobs Duplicate: %d\n", dup)
	fmt.Printf("Jobs Completed: %d (%.0f/sec)\n", completed, float64(completed)/elapsed)
	fmt.Printf("Jobs Failed: %d\n", failed)
	fmt.Printf("Add Errors: %d\n", addErrors)
	fmt.Printf("============================\n\n")
}

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  "info",
		Format: "console",
	})

	fmt.Printf("Starting convoy load test...\n")
	fmt.Printf("Target Rate: %d jobs/sec\n", *targetRate)
	fmt.Printf("Duration: %d seconds\n", *duration)
	fmt.Printf("Producers: %d\n", *producers)
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("Duplicate Rate: %.2f\n", *duplicateRate)
	if *redisAddr == "" {
		fmt.Printf("Store: in-memory\n\n")
	} else {
		fmt.Printf("Store: redis at %s\n\n", *redisAddr)
	}

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	cv := convoy.New(
		convoy.WithClientFactory(func() (kv.Store, error) {
			if *redisAddr == "" {
				return memkv.New(), nil
			}
			return rediskv.New(rediskv.Config{Addr: *redisAddr}), nil
		}),
		convoy.WithPrefix("loadtest:"),
		convoy.WithLogger(logger),
	)
	defer cv.Close()

	q, err := cv.CreateQueue("loadtest", convoy.WithConcurrentWorkers(*workers))
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}

	stats := &Stats{startTime: time.Now()}

	handler := func(_ context.Context, _ job.Job, complete queue.CompleteFunc) {
		atomic.AddUint64(&stats.jobsCompleted, 1)
		complete(nil)
	}
	if err := q.StartProcessing(ctx, handler); err != nil {
		return fmt.Errorf("failed to start processing: %w", err)
	}

	go func() {
		ticker := time.NewTicker(time.Duration(*reportInterval) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.Report()
			}
		}
	}()

	var wg sync.WaitGroup
	jobsPerProducer := *targetRate / *producers
	if jobsPerProducer < 1 {
		jobsPerProducer = 1
	}
	sleepDuration := time.Second / time.Duration(jobsPerProducer)

	for i := 0; i < *producers; i++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			runProducer(ctx, producerID, q, stats, sleepDuration)
		}(i)
	}

	select {
	case <-time.After(time.Duration(*duration) * time.Second):
		logger.Info().Msg("test duration reached")
	case <-sigCh:
		logger.Info().Msg("received shutdown signal")
	}

	cancel()
	wg.Wait()
	q.StopProcessing()

	stats.Report()

	return nil
}

func runProducer(ctx context.Context, producerID int, q *queue.Queue, stats *Stats, sleepDuration time.Duration) {
	ticker := time.NewTicker(sleepDuration)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var id string
			if *duplicateRate > 0 && rand.Float64() < *duplicateRate {
				id = fmt.Sprintf("producer-%d-dup", producerID)
			} else {
				id = fmt.Sprintf("producer-%d-job-%d", producerID, seq)
				seq++
			}

			status, err := q.AddJob(ctx, job.WithPayload(id, map[string]interface{}{
				"producer":  producerID,
				"generated": time.Now().UnixNano(),
			}))
			if err != nil {
				atomic.AddUint64(&stats.addErrors, 1)
				continue
			}

			if status == queue.Added {
				atomic.AddUint64(&stats.jobsAdded, 1)
			} else {
				atomic.AddUint64(&stats.jobsDuplicate, 1)
			}
		}
	}
}
