package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assess-api/internal/dto"
	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/internal/utils"
)

const defaultStreamPingInterval = 30 * time.Second

// JobHandler exposes AI job status, retry and a websocket stream of status changes.
type JobHandler struct {
	jobs         service.JobService
	events       service.JobEventBus
	pingInterval time.Duration
	logger       zerolog.Logger
}

// NewJobHandler constructs a job handler. events may be nil, which disables the stream.
func NewJobHandler(jobs service.JobService, events service.JobEventBus, pingInterval time.Duration, logger zerolog.Logger) *JobHandler {
	if pingInterval <= 0 {
		pingInterval = defaultStreamPingInterval
	}

	return &JobHandler{
		jobs:         jobs,
		events:       events,
		pingInterval: pingInterval,
		logger:       logger.With().Str("component", "job_handler").Logger(),
	}
}

// Register wires job routes.
func (h *JobHandler) Register(router fiber.Router) {
	router.Use("/:id/ws", func(c *fiber.Ctx) error {
		if h.events == nil {
			return utils.SendError(c, fiber.StatusServiceUnavailable, "job stream unavailable")
		}
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/:id", h.get)
	router.Post("/:id/retry", h.retry)
	router.Get("/:id/ws", websocket.New(h.stream))
}

func (h *JobHandler) get(c *fiber.Ctx) error {
	job, err := h.jobs.GetJob(requestContext(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "job retrieved", dto.NewJobResponse(job))
}

func (h *JobHandler) retry(c *fiber.Ctx) error {
	job, err := h.jobs.RetryJob(requestContext(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "job requeued", dto.JobStatusResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	})
}

// stream sends the job's current state, then every change until the job settles or the
// client goes away. Subscribing before the initial read keeps a concurrent change from being missed.
func (h *JobHandler) stream(conn *websocket.Conn) {
	jobID := strings.TrimSpace(conn.Params("id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	logger := observability.Logger(baseCtx, h.logger).With().Str("job_id", jobID).Logger()

	events, unsubscribe := h.events.Subscribe(jobID)
	defer unsubscribe()

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		code, text := websocket.CloseInternalServerErr, "job lookup failed"
		if service.ErrorKind(err) == service.KindNotFound {
			code, text = websocket.ClosePolicyViolation, "job not found"
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
		_ = conn.Close()
		return
	}

	if err := conn.WriteJSON(dto.NewJobEvent(job)); err != nil {
		return
	}
	if settled(job.Status) {
		h.closeStream(conn, "job settled")
		return
	}

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Debug().Msg("job stream opened")
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("job stream closed by client")
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Warn().Err(err).Msg("job stream write failed")
				return
			}
			if settled(models.JobStatus(event.Status)) {
				h.closeStream(conn, "job settled")
				return
			}
		}
	}
}

func (h *JobHandler) closeStream(conn *websocket.Conn, reason string) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	_ = conn.Close()
}

func settled(status models.JobStatus) bool {
	return status == models.JobStatusCompleted || status == models.JobStatusFailed
}
