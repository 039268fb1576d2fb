// Package queue owns everything about one named convoy queue: its six
// KV keys, admission control, the dispatch loop, bounded worker
// concurrency, and jam recovery. This is the state machine the rest of
// the module exists to serve.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/convoy/internal/clock"
	"github.com/therealutkarshpriyadarshi/convoy/internal/keys"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/logging"
	"github.com/therealutkarshpriyadarshi/convoy/internal/metrics"
	"github.com/therealutkarshpriyadarshi/convoy/internal/tracing"
	"github.com/therealutkarshpriyadarshi/convoy/internal/worker"
	"github.com/therealutkarshpriyadarshi/convoy/pkg/job"
)

// ErrAlreadyStarted is returned by StartProcessing if the dispatch loop
// is already running.
var ErrAlreadyStarted = errors.New("queue: already processing")

// ErrClosed names a closed queue. No Queue method returns it; calls made
// after Close still go to the released KV client.
var ErrClosed = errors.New("queue: closed")

// popInterval bounds each PopAndReserve attempt so the dispatch loop
// wakes up periodically to notice StopProcessing/Close even when the
// queue is idle.
const popInterval = time.Second

// Status reports where AddJob found (or placed) a job id.
type Status int

const (
	// Added means the id was new to committed and was pushed to queued.
	Added Status = iota
	// Committed means the id was already committed but not yet
	// claimed by a worker (still queued, or mid-dispatch).
	Committed
	// Processing means the id is currently held by a worker.
	Processing
)

func (s Status) String() string {
	switch s {
	case Added:
		return "added"
	case Committed:
		return "committed"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// CompleteFunc reports a job's outcome back to its Worker: nil means
// success, non-nil is recorded as a failure with that error's message.
type CompleteFunc func(err error)

// Handler processes one job. It must eventually call complete exactly
// once, synchronously or from another goroutine; a Handler that never
// calls it relies entirely on the configured job timeout to terminate
// the job.
type Handler func(ctx context.Context, j job.Job, complete CompleteFunc)

// Config holds the per-queue dispatch options.
type Config struct {
	// ConcurrentWorkers bounds in-flight jobs for this queue on this
	// convoy. Defaults to 1.
	ConcurrentWorkers int
	// JobTimeout bounds how long a single job may occupy a worker. Zero
	// disables the per-job timer.
	JobTimeout time.Duration
	// LogTTL bounds how long a day's error log survives. Defaults to
	// 7 days.
	LogTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConcurrentWorkers <= 0 {
		c.ConcurrentWorkers = 1
	}
	if c.LogTTL <= 0 {
		c.LogTTL = 7 * 24 * time.Hour
	}
	return c
}

// Queue owns the KV keys for one named queue and coordinates admission,
// dispatch and recovery over them. The zero Queue is not usable; build
// one with New.
type Queue struct {
	name  string
	keys  keys.Set
	store kv.Store
	cfg   Config
	log   *logging.Logger
	met   *metrics.Collector
	tr    trace.Tracer

	sem    chan struct{}
	stopCh chan struct{}
	stop   sync.Once

	startMu sync.Mutex
	started bool

	dispatchWG sync.WaitGroup
	jobsWG     sync.WaitGroup

	workersMu      sync.Mutex
	workersRunning int

	closeMu sync.Once
	closed  bool
}

// New builds a Queue named name, owning the six KV keys under prefix,
// against store. log may be nil, in which case the queue logs through
// logging.Global().
func New(name, prefix string, store kv.Store, cfg Config, log *logging.Logger) *Queue {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logging.Global()
	}
	return &Queue{
		name:   name,
		keys:   keys.New(prefix, name),
		store:  store,
		cfg:    cfg,
		log:    log.WithQueue(name),
		stopCh: make(chan struct{}),
	}
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// SetMetrics attaches a Collector that AddJob, dispatch, completion and
// jam-guard calls report to. Safe to call before processing starts;
// nil disables reporting.
func (q *Queue) SetMetrics(m *metrics.Collector) {
	q.met = m
}

// SetTracer attaches a tracer that AddJob, dispatch and jam-guard calls
// open spans against. Nil (the default) disables tracing.
func (q *Queue) SetTracer(t trace.Tracer) {
	q.tr = t
}

// AddJob admits j with dedup semantics: a conditional add to committed
// followed, only on a genuinely new id, by a push to queued.
func (q *Queue) AddJob(ctx context.Context, j job.Job) (Status, error) {
	if q.tr != nil {
		var span trace.Span
		ctx, span = tracing.TraceAddJob(ctx, q.tr, q.name, j.ID)
		defer span.End()
	}

	added, err := q.store.TryCommit(ctx, q.keys.Committed, q.keys.Queued, j.ID)
	if err != nil {
		return 0, fmt.Errorf("queue %s: AddJob(%s): %w", q.name, j.ID, err)
	}
	if added {
		q.log.Debug().Str("job", j.ID).Msg("job added")
		if q.met != nil {
			q.met.JobsAdded.WithLabelValues(q.name).Inc()
		}
		return Added, nil
	}

	_, inProcessing, err := q.store.ZSetScore(ctx, q.keys.Processing, j.ID)
	if err != nil {
		return 0, fmt.Errorf("queue %s: AddJob(%s): %w", q.name, j.ID, err)
	}
	status := Committed
	if inProcessing {
		status = Processing
	}
	if q.met != nil {
		q.met.JobsDuplicate.WithLabelValues(q.name, status.String()).Inc()
	}
	return status, nil
}

// StartProcessing launches the dispatch loop: it blocks-pops queued,
// reserves the popped id into processing, and hands it to handler on
// its own goroutine, bounded to cfg.ConcurrentWorkers concurrent
// handler invocations. It returns immediately; the loop runs until
// StopProcessing or Close.
func (q *Queue) StartProcessing(ctx context.Context, handler Handler) error {
	q.startMu.Lock()
	defer q.startMu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}
	q.started = true
	q.sem = make(chan struct{}, q.cfg.ConcurrentWorkers)

	q.dispatchWG.Add(1)
	go q.dispatchLoop(ctx, handler)
	return nil
}

func (q *Queue) dispatchLoop(ctx context.Context, handler Handler) {
	defer q.dispatchWG.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case q.sem <- struct{}{}:
		}

		select {
		case <-q.stopCh:
			<-q.sem
			return
		default:
		}

		id, ok, err := q.store.PopAndReserve(ctx, q.keys.Queued, q.keys.Processing, float64(clock.Now()), popInterval)
		if err != nil {
			<-q.sem
			q.log.Error().Err(err).Msg("PopAndReserve failed")
			select {
			case <-q.stopCh:
				return
			case <-time.After(popInterval):
			}
			continue
		}
		if !ok {
			<-q.sem
			continue
		}

		dispatchCtx := ctx
		var dispatchSpan trace.Span
		if q.tr != nil {
			dispatchCtx, dispatchSpan = tracing.TraceDispatch(ctx, q.tr, q.name, id)
		}

		q.jobsWG.Add(1)
		q.addWorkersRunning(1)
		w := worker.New(worker.Config{
			Store:      q.store,
			Keys:       q.keys,
			JobTimeout: q.cfg.JobTimeout,
			LogTTL:     q.cfg.LogTTL,
		}, job.New(id))
		w.Resume(clock.Now())

		if dispatchSpan != nil {
			dispatchSpan.End()
		}
		go q.runJob(dispatchCtx, w, handler)
	}
}

func (q *Queue) runJob(ctx context.Context, w *worker.Worker, handler Handler) {
	dispatchedAt := time.Now()

	if q.tr != nil {
		var span trace.Span
		ctx, span = tracing.TraceHandler(ctx, q.tr, q.name, w.Job().ID)
		defer span.End()
	}

	w.SetOnTerminal(func() {
		if q.met != nil {
			failed, reason := w.Outcome()
			q.met.JobDuration.WithLabelValues(q.name).Observe(time.Since(dispatchedAt).Seconds())
			switch {
			case !failed:
				q.met.JobsCompleted.WithLabelValues(q.name).Inc()
			case reason == "timeout":
				q.met.JobsTimedOut.WithLabelValues(q.name).Inc()
			default:
				q.met.JobsFailed.WithLabelValues(q.name).Inc()
			}
		}
		q.addWorkersRunning(-1)
		<-q.sem
		q.jobsWG.Done()
	})
	if q.met != nil {
		q.met.WorkersRunning.WithLabelValues(q.name).Set(float64(q.WorkersRunning()))
	}

	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("job", w.Job().ID).Msg("handler panicked")
			w.Failed(ctx, fmt.Sprintf("panic: %v", r), func(error) {})
		}
	}()

	handler(ctx, w.Job(), func(err error) {
		if err != nil {
			w.Failed(ctx, err.Error(), func(storeErr error) {
				if storeErr != nil {
					q.log.Error().Err(storeErr).Str("job", w.Job().ID).Msg("Failed write failed")
				} else {
					q.log.Warn().Str("job", w.Job().ID).Str("reason", err.Error()).Msg("job failed")
				}
			})
			return
		}
		w.Completed(ctx, func(storeErr error) {
			if storeErr != nil {
				q.log.Error().Err(storeErr).Str("job", w.Job().ID).Msg("Completed write failed")
			} else {
				q.log.Debug().Str("job", w.Job().ID).Msg("job completed")
			}
		})
	})
}

func (q *Queue) addWorkersRunning(delta int) {
	q.workersMu.Lock()
	q.workersRunning += delta
	q.workersMu.Unlock()
}

// WorkersRunning reports the current number of in-flight jobs on this
// convoy for this queue (P5's bounded quantity).
func (q *Queue) WorkersRunning() int {
	q.workersMu.Lock()
	defer q.workersMu.Unlock()
	return q.workersRunning
}

// StopProcessing causes the dispatch loop to exit after its current
// blocking pop resolves. Already-dispatched jobs continue to run.
// Idempotent.
func (q *Queue) StopProcessing() {
	q.stop.Do(func() { close(q.stopCh) })
}

// Close stops dispatch, waits for every in-flight job to reach a
// terminal state, then releases the KV client. Idempotent.
func (q *Queue) Close() error {
	var err error
	q.closeMu.Do(func() {
		q.StopProcessing()
		q.dispatchWG.Wait()
		q.jobsWG.Wait()
		q.closed = true
		err = q.store.Close()
	})
	return err
}

// ClearJammedJobs releases every id in processing whose score (the
// unix-second it began processing) is at least threshold old: removed
// from both processing and committed, making it eligible for a fresh
// AddJob. Returns the ids released.
func (q *Queue) ClearJammedJobs(ctx context.Context, threshold time.Duration) ([]string, error) {
	if q.tr != nil {
		var span trace.Span
		ctx, span = tracing.TraceJamGuard(ctx, q.tr, q.name)
		defer span.End()
	}
	if q.met != nil {
		q.met.JamGuardScans.WithLabelValues(q.name).Inc()
	}

	cutoff := float64(clock.Now() - int64(threshold.Seconds()))
	ids, err := q.store.ZSetRangeByScore(ctx, q.keys.Processing, 0, cutoff)
	if err != nil {
		return nil, fmt.Errorf("queue %s: ClearJammedJobs: %w", q.name, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	ops := make([]kv.Op, 0, len(ids)*2)
	for _, id := range ids {
		ops = append(ops, kv.ZSetRemove(q.keys.Processing, id), kv.SetRemove(q.keys.Committed, id))
	}
	if err := q.store.Compound(ctx, ops); err != nil {
		return nil, fmt.Errorf("queue %s: ClearJammedJobs: %w", q.name, err)
	}

	if q.met != nil {
		q.met.JamGuardReleased.WithLabelValues(q.name).Add(float64(len(ids)))
	}
	q.log.Warn().Strs("jobs", ids).Msg("jam guard released jobs")
	return ids, nil
}

// JamGuard runs ClearJammedJobs every interval until ctx is cancelled or
// the returned stop func is called, invoking onScan with each pass's
// result. It is safe to call stop more than once.
func (q *Queue) JamGuard(ctx context.Context, threshold, interval time.Duration, onScan func(released []string, err error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				released, err := q.ClearJammedJobs(ctx, threshold)
				if onScan != nil {
					onScan(released, err)
				}
			}
		}
	}()

	return cancel
}

// CountQueued reports the length of queued.
func (q *Queue) CountQueued(ctx context.Context) (int64, error) {
	return q.store.ListLen(ctx, q.keys.Queued)
}

// CountCommitted reports the cardinality of committed.
func (q *Queue) CountCommitted(ctx context.Context) (int64, error) {
	return q.store.SetCard(ctx, q.keys.Committed)
}

// CountProcessing reports the cardinality of processing.
func (q *Queue) CountProcessing(ctx context.Context) (int64, error) {
	return q.store.ZSetCard(ctx, q.keys.Processing)
}

// CountFailed reports the cardinality of failed.
func (q *Queue) CountFailed(ctx context.Context) (int64, error) {
	return q.store.ZSetCard(ctx, q.keys.Failed)
}
