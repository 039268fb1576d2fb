package health

import (
	"context"
	"fmt"
)

// queueCounter is the subset of *queue.Queue this package depends on.
// Kept as an interface so health doesn't import queue (which would
// make queue indirectly depend on its own health check at build time).
type queueCounter interface {
	Name() string
	CountCommitted(ctx context.Context) (int64, error)
}

// QueueCheck builds a HealthCheck that reports a queue unhealthy if its
// committed set cannot be read — the cheapest KV round trip that
// proves the shared client is reachable.
func QueueCheck(q queueCounter) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		n, err := q.CountCommitted(ctx)
		if err != nil {
			return ComponentHealth{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("CountCommitted: %v", err),
			}
		}
		return ComponentHealth{
			Status:   StatusHealthy,
			Metadata: map[string]interface{}{"committed": n},
		}
	}
}
