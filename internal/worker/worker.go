// Package worker owns a single in-flight job's lifecycle transitions:
// queued → processing → done/failed. A Worker runs on one convoy and
// mediates completion callbacks and timeouts for exactly one job.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/convoy/internal/clock"
	"github.com/therealutkarshpriyadarshi/convoy/internal/keys"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
	"github.com/therealutkarshpriyadarshi/convoy/pkg/job"
)

// Config holds everything a Worker borrows from its owning Queue for
// its lifetime — the KV client and key namespace — plus per-job
// timing options. The Worker does not own the Store; the Queue does.
type Config struct {
	Store      kv.Store
	Keys       keys.Set
	JobTimeout time.Duration // 0 disables the per-job timer
	LogTTL     time.Duration
}

// StoredFunc reports the outcome of the KV write backing a lifecycle
// transition (nil on success).
type StoredFunc func(err error)

// Worker drives one Job through processing, completion or failure. A
// Worker reports exactly one terminal event; any callback delivered
// after that point is ignored.
type Worker struct {
	cfg Config
	job job.Job

	mu            sync.Mutex
	startedAt     int64
	timer         *time.Timer
	done          bool
	failed        bool
	failureReason string
	onTerminal    func()
}

// New constructs a Worker for job j against the given Queue
// dependencies. Callers typically discard the Worker once it reports
// its terminal event.
func New(cfg Config, j job.Job) *Worker {
	return &Worker{cfg: cfg, job: j}
}

// Job returns the job this Worker is driving.
func (w *Worker) Job() job.Job { return w.job }

// Outcome reports how this Worker reached its terminal state: failed is
// false until Failed has been called (directly or via timeout), at
// which point reason holds the error message that triggered it. Only
// meaningful after onTerminal has fired.
func (w *Worker) Outcome() (failed bool, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed, w.failureReason
}

// SetOnTerminal registers fn to run exactly once, the moment this
// Worker reaches its one terminal transition — whether that is an
// explicit Completed/Failed call or an internal timeout. The owning
// Queue uses this to release its concurrency slot regardless of which
// path ended the job.
func (w *Worker) SetOnTerminal(fn func()) {
	w.mu.Lock()
	w.onTerminal = fn
	w.mu.Unlock()
}

// Processing atomically upserts processing[id] = Now(), and once the
// KV store acknowledges, arms the job timeout timer (if configured)
// and invokes onStored. Safe to call directly without a Queue
// dispatch loop in front of it — ClearJammedJobs recovery depends on
// this being true standalone (see the jammed-worker scenario).
func (w *Worker) Processing(ctx context.Context, onStored StoredFunc) {
	now := clock.Now()
	err := w.cfg.Store.ZSetUpsert(ctx, w.cfg.Keys.Processing, w.job.ID, float64(now))
	if err != nil {
		onStored(err)
		return
	}
	w.begin(now)
	onStored(nil)
}

// Resume is used by the dispatch loop when the pop from queued and the
// reservation into processing already happened atomically via
// kv.Store.PopAndReserve — it only needs to arm the timer and track
// startedAt, not repeat the reservation write.
func (w *Worker) Resume(startedAt int64) {
	w.begin(startedAt)
}

func (w *Worker) begin(startedAt int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.startedAt = startedAt
	if w.cfg.JobTimeout > 0 {
		w.timer = time.AfterFunc(w.cfg.JobTimeout, func() {
			w.Failed(context.Background(), "timeout", func(error) {})
		})
	}
}

// Completed atomically removes the job from committed and processing,
// cancels the timeout timer, and invokes onStored. A no-op if the
// Worker already reported a terminal event.
func (w *Worker) Completed(ctx context.Context, onStored StoredFunc) {
	if !w.markDone() {
		return
	}

	err := w.cfg.Store.Compound(ctx, []kv.Op{
		kv.SetRemove(w.cfg.Keys.Committed, w.job.ID),
		kv.ZSetRemove(w.cfg.Keys.Processing, w.job.ID),
	})
	onStored(err)
}

// Failed atomically removes the job from committed and processing,
// records it in the failed set, appends errorMessage to the day's
// error log with a TTL, cancels the timeout timer, and invokes
// onStored. A no-op if the Worker already reported a terminal event.
func (w *Worker) Failed(ctx context.Context, errorMessage string, onStored StoredFunc) {
	if !w.markDoneFailed(errorMessage) {
		return
	}

	now := clock.Now()
	dayStart := clock.DayStart(now)
	logKey := w.cfg.Keys.ErrorLog(dayStart)

	err := w.cfg.Store.Compound(ctx, []kv.Op{
		kv.SetRemove(w.cfg.Keys.Committed, w.job.ID),
		kv.ZSetRemove(w.cfg.Keys.Processing, w.job.ID),
		kv.ZSetUpsert(w.cfg.Keys.Failed, w.job.ID, float64(now)),
		kv.ListPushTail(logKey, errorMessage),
		kv.Expire(logKey, int64(w.cfg.LogTTL.Seconds())),
	})
	onStored(err)
}

// markDone reports whether this call is the one terminal transition
// for the Worker: true the first time, false on every later call. It
// also cancels the timeout timer so a late handler callback racing the
// timeout never double-fires, and fires onTerminal exactly once.
func (w *Worker) markDone() bool {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return false
	}
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
	}
	onTerminal := w.onTerminal
	w.mu.Unlock()

	if onTerminal != nil {
		onTerminal()
	}
	return true
}

// markDoneFailed is markDone plus recording the failure reason under
// the same lock, so Outcome never observes done without a reason.
func (w *Worker) markDoneFailed(errorMessage string) bool {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return false
	}
	w.done = true
	w.failed = true
	w.failureReason = errorMessage
	if w.timer != nil {
		w.timer.Stop()
	}
	onTerminal := w.onTerminal
	w.mu.Unlock()

	if onTerminal != nil {
		onTerminal()
	}
	return true
}
