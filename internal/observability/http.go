package observability

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const refreshTimeout = 2 * time.Second

// Refresher samples a gauge right before a scrape, e.g. queue depths read from Redis.
type Refresher func(ctx context.Context) error

// MetricsHandler exposes the Prometheus scrape endpoint via Fiber. Refreshers run before each
// scrape; a failing one is logged and the scrape still serves the last sampled values.
func MetricsHandler(logger zerolog.Logger, refreshers ...Refresher) fiber.Handler {
	RegisterMetrics()
	scrape := adaptor.HTTPHandler(promhttp.Handler())
	logger = logger.With().Str("component", "metrics").Logger()

	return func(c *fiber.Ctx) error {
		if len(refreshers) > 0 {
			ctx, cancel := context.WithTimeout(c.UserContext(), refreshTimeout)
			for _, refresh := range refreshers {
				if err := refresh(ctx); err != nil {
					logger.Warn().Err(err).Msg("metrics refresh failed")
				}
			}
			cancel()
		}
		return scrape(c)
	}
}
