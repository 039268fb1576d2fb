// Package convoy is the factory and registry a process uses to create
// Queues, each built against its own KV client from a shared,
// overridable factory. It also optionally fronts a Queue's admission
// with a ring buffer so bursty producers don't block on the KV round
// trip inside AddJob.
package convoy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/convoy/internal/buffer"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/logging"
	"github.com/therealutkarshpriyadarshi/convoy/internal/metrics"
	"github.com/therealutkarshpriyadarshi/convoy/internal/queue"
	"github.com/therealutkarshpriyadarshi/convoy/pkg/job"
)

// ClientFactory builds the KV client for one Queue. The factory runs
// once per Queue, not once per Convoy: each Queue owns the client it
// was built with and closes it when the Queue closes.
type ClientFactory func() (kv.Store, error)

// Option configures a Convoy at construction time.
type Option func(*Convoy)

// WithClientFactory sets how the Convoy builds each Queue's KV client.
// The factory runs once per CreateQueue call, lazily.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Convoy) { c.factory = f }
}

// WithPrefix sets the KV key prefix every Queue's keys are namespaced
// under. Defaults to "convoy:".
func WithPrefix(prefix string) Option {
	return func(c *Convoy) { c.prefix = prefix }
}

// WithLogTTL sets the default error-log TTL new Queues are built with,
// overridable per Queue via QueueOption.
func WithLogTTL(ttl time.Duration) Option {
	return func(c *Convoy) { c.logTTL = ttl }
}

// WithLogger sets the logger new Queues derive their own tagged logger
// from.
func WithLogger(log *logging.Logger) Option {
	return func(c *Convoy) { c.log = log }
}

// WithMetrics attaches a Collector every Queue this Convoy creates
// reports to.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Convoy) { c.met = m }
}

// WithTracer attaches a tracer every Queue this Convoy creates opens
// spans against.
func WithTracer(t trace.Tracer) Option {
	return func(c *Convoy) { c.tr = t }
}

// Convoy produces Queues, each dialing its own KV client from factory.
// The zero value is not usable; build one with New.
type Convoy struct {
	factory ClientFactory
	prefix  string
	logTTL  time.Duration
	log     *logging.Logger
	met     *metrics.Collector
	tr      trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string]*queue.Queue
	buffers map[string]*buffer.RingBuffer
}

// New builds a Convoy. Without WithClientFactory, CreateQueue fails the
// first time it is called — a Convoy always needs some way to reach a
// KV store.
func New(opts ...Option) *Convoy {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Convoy{
		prefix:  "convoy:",
		logTTL:  7 * 24 * time.Hour,
		log:     logging.Global(),
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string]*queue.Queue),
		buffers: make(map[string]*buffer.RingBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Job constructs a job.Job; re-exported so callers depend only on the
// convoy package for everyday use. See pkg/job.New for details.
func Job(id interface{}) job.Job { return job.New(id) }

// queueSettings accumulates what a QueueOption configures: the Queue's
// own Config plus, optionally, an admission ring buffer in front of it.
type queueSettings struct {
	cfg    queue.Config
	bufCfg *buffer.RingBufferConfig
}

// CreateQueue returns the named Queue, dialing it a fresh KV client
// from factory. Calling CreateQueue again with the same name returns
// the same Queue and does not call factory again.
func (c *Convoy) CreateQueue(name string, opts ...QueueOption) (*queue.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q, ok := c.queues[name]; ok {
		return q, nil
	}

	if c.factory == nil {
		return nil, fmt.Errorf("convoy: CreateQueue(%s): no client factory configured", name)
	}
	client, err := c.factory()
	if err != nil {
		return nil, fmt.Errorf("convoy: CreateQueue(%s): building KV client: %w", name, err)
	}

	settings := queueSettings{cfg: queue.Config{LogTTL: c.logTTL}}
	for _, opt := range opts {
		opt(&settings)
	}

	q := queue.New(name, c.prefix, client, settings.cfg, c.log)
	if c.met != nil {
		q.SetMetrics(c.met)
	}
	if c.tr != nil {
		q.SetTracer(c.tr)
	}
	c.queues[name] = q

	if settings.bufCfg != nil {
		rb, err := buffer.NewRingBuffer(*settings.bufCfg)
		if err != nil {
			return nil, fmt.Errorf("convoy: CreateQueue(%s): building admission buffer: %w", name, err)
		}
		c.buffers[name] = rb
		c.wg.Add(1)
		go c.drainBuffer(q, rb)
	}

	return q, nil
}

// drainBuffer pumps jobs admitted into rb through q.AddJob until the
// Convoy is closed. Errors from AddJob are logged rather than
// returned, since the producer that called Submit has already moved
// on by the time this runs.
func (c *Convoy) drainBuffer(q *queue.Queue, rb *buffer.RingBuffer) {
	defer c.wg.Done()

	for {
		j, err := rb.Dequeue(c.ctx)
		if err != nil {
			return
		}
		if _, err := q.AddJob(c.ctx, j); err != nil {
			c.log.WithQueue(q.Name()).Error().Err(err).Msg("buffered admission failed")
		}
	}
}

// Submit admits j to the named queue, creating it with opts if this is
// the first call for name. If the queue was created with
// WithAdmissionBuffer, Submit returns as soon as j is accepted into the
// ring buffer, decoupling the caller from the KV round trip; otherwise
// it calls Queue.AddJob directly and waits for it.
func (c *Convoy) Submit(ctx context.Context, name string, j job.Job, opts ...QueueOption) error {
	q, err := c.CreateQueue(name, opts...)
	if err != nil {
		return err
	}

	c.mu.Lock()
	rb := c.buffers[name]
	c.mu.Unlock()

	if rb != nil {
		return rb.Enqueue(ctx, j)
	}

	_, err = q.AddJob(ctx, j)
	return err
}

// Queues returns every Queue created so far, keyed by name.
func (c *Convoy) Queues() map[string]*queue.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*queue.Queue, len(c.queues))
	for name, q := range c.queues {
		out[name] = q
	}
	return out
}

// Close stops every admission-buffer drain goroutine and closes every
// Queue this Convoy has created. Each Queue owns and closes its own KV
// client, so one queue's Close can never disrupt a sibling's dispatch.
func (c *Convoy) Close() error {
	c.cancel()

	c.mu.Lock()
	queues := make([]*queue.Queue, 0, len(c.queues))
	for _, q := range c.queues {
		queues = append(queues, q)
	}
	c.mu.Unlock()

	c.wg.Wait()

	var firstErr error
	for _, q := range queues {
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// QueueOption configures a single Queue at CreateQueue time.
type QueueOption func(*queueSettings)

// WithConcurrentWorkers bounds in-flight jobs for this queue.
func WithConcurrentWorkers(n int) QueueOption {
	return func(s *queueSettings) { s.cfg.ConcurrentWorkers = n }
}

// WithJobTimeout bounds how long a single job may occupy a worker.
func WithJobTimeout(d time.Duration) QueueOption {
	return func(s *queueSettings) { s.cfg.JobTimeout = d }
}

// WithQueueLogTTL overrides the Convoy-wide error-log TTL for one queue.
func WithQueueLogTTL(d time.Duration) QueueOption {
	return func(s *queueSettings) { s.cfg.LogTTL = d }
}

// WithAdmissionBuffer fronts this queue's admission with a ring buffer:
// Submit enqueues into it instead of calling AddJob directly, and a
// background goroutine drains it into AddJob. Use this for producers
// that would otherwise stall on the KV round trip during a burst;
// AddJob itself is unaffected and still usable directly.
func WithAdmissionBuffer(cfg buffer.RingBufferConfig) QueueOption {
	return func(s *queueSettings) { s.bufCfg = &cfg }
}
