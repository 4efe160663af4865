package worker

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/pkg/queue"
)

// QueueStats reads the depth counters of a queue.
type QueueStats interface {
	Stats(ctx context.Context, queue string) (queue.Stats, error)
}

// QueueDepthRefresher samples the generation and evaluation queues into the queue depth gauge.
func QueueDepthRefresher(stats QueueStats) observability.Refresher {
	return func(ctx context.Context) error {
		for _, name := range []string{service.GenerationQueue, service.EvaluationQueue} {
			depth, err := stats.Stats(ctx, name)
			if err != nil {
				return fmt.Errorf("queue %s stats: %w", name, err)
			}

			gauge := observability.QueueDepth()
			gauge.WithLabelValues(name, "ready").Set(float64(depth.Ready))
			gauge.WithLabelValues(name, "delayed").Set(float64(depth.Delayed))
			gauge.WithLabelValues(name, "dead").Set(float64(depth.Dead))
		}
		return nil
	}
}
