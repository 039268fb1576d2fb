package convoy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/therealutkarshpriyadarshi/convoy/internal/buffer"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/kv/memkv"
	"github.com/therealutkarshpriyadarshi/convoy/internal/metrics"
	"github.com/therealutkarshpriyadarshi/convoy/pkg/job"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was never satisfied")
}

func memFactory() (kv.Store, error) {
	return memkv.New(), nil
}

func TestConvoy_CreateQueue_SameNameReturnsSameQueue(t *testing.T) {
	c := New(WithClientFactory(memFactory))

	q1, err := c.CreateQueue("emails")
	if err != nil {
		t.Fatal(err)
	}
	q2, err := c.CreateQueue("emails")
	if err != nil {
		t.Fatal(err)
	}
	if q1 != q2 {
		t.Error("CreateQueue with the same name returned different Queues")
	}
}

func TestConvoy_CreateQueue_NoFactory(t *testing.T) {
	c := New()
	if _, err := c.CreateQueue("emails"); err == nil {
		t.Error("CreateQueue with no client factory, want error")
	}
}

func TestConvoy_CreateQueue_PerQueueClient(t *testing.T) {
	calls := 0
	factory := func() (kv.Store, error) {
		calls++
		return memkv.New(), nil
	}
	c := New(WithClientFactory(factory))

	if _, err := c.CreateQueue("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateQueue("b"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("client factory called %d times, want 2 (one per queue)", calls)
	}

	// Calling CreateQueue again with a name already created must not
	// dial a new client.
	if _, err := c.CreateQueue("a"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("client factory called %d times after repeat CreateQueue, want still 2", calls)
	}
}

func TestConvoy_CreateQueue_Options(t *testing.T) {
	c := New(WithClientFactory(memFactory))

	q, err := c.CreateQueue("emails", WithConcurrentWorkers(5), WithJobTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if q.Name() != "emails" {
		t.Errorf("Name() = %q, want emails", q.Name())
	}
}

func TestConvoy_FactoryError(t *testing.T) {
	boom := errors.New("dial failed")
	c := New(WithClientFactory(func() (kv.Store, error) { return nil, boom }))

	if _, err := c.CreateQueue("emails"); !errors.Is(err, boom) {
		t.Errorf("CreateQueue error = %v, want wrapping %v", err, boom)
	}
}

func TestConvoy_CreateQueue_WithMetrics(t *testing.T) {
	met := metrics.NewCollector()
	c := New(WithClientFactory(memFactory), WithMetrics(met))

	q, err := c.CreateQueue("emails")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.AddJob(context.Background(), job.New("1")); err != nil {
		t.Fatal(err)
	}

	m := &dto.Metric{}
	if err := met.JobsAdded.WithLabelValues("emails").(prometheus.Counter).Write(m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 1 {
		t.Errorf("JobsAdded = %f, want 1", m.Counter.GetValue())
	}
}

func TestConvoy_Submit_WithAdmissionBuffer(t *testing.T) {
	c := New(WithClientFactory(memFactory))

	q, err := c.CreateQueue("emails", WithAdmissionBuffer(buffer.RingBufferConfig{Size: 16}))
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Submit(context.Background(), "emails", job.New("1")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		n, err := q.CountQueued(context.Background())
		return err == nil && n == 1
	})
}

func TestConvoy_Submit_WithoutBufferCallsAddJobDirectly(t *testing.T) {
	c := New(WithClientFactory(memFactory))

	q, err := c.CreateQueue("emails")
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Submit(context.Background(), "emails", job.New("1")); err != nil {
		t.Fatal(err)
	}

	n, err := q.CountQueued(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountQueued = %d, want 1", n)
	}
}

func TestConvoy_Close(t *testing.T) {
	c := New(WithClientFactory(memFactory))

	if _, err := c.CreateQueue("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateQueue("b"); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
