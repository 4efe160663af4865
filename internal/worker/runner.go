package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/pkg/queue"
)

// JobHandler processes one delivery of a job identified by id.
type JobHandler interface {
	Handle(ctx context.Context, jobID string) error
}

// Consumer delivers queue messages to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler queue.Handler) error
}

type binding struct {
	queue   string
	jobType models.JobType
	handler JobHandler
}

// Runner binds job handlers to their queues. A failed delivery is recorded on the job
// before the error goes back to the queue, which then applies its retry policy.
type Runner struct {
	consumer Consumer
	jobs     service.JobService
	bindings []binding
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewRunner constructs a runner.
func NewRunner(consumer Consumer, jobs service.JobService, logger zerolog.Logger) *Runner {
	return &Runner{
		consumer: consumer,
		jobs:     jobs,
		logger:   logger.With().Str("component", "worker_runner").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-assess-api/internal/worker"),
	}
}

// Register binds handler to the queue that carries jobs of jobType.
func (r *Runner) Register(jobType models.JobType, handler JobHandler) {
	r.bindings = append(r.bindings, binding{
		queue:   service.QueueForJob(jobType),
		jobType: jobType,
		handler: handler,
	})
}

// Run consumes every registered queue until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.bindings) == 0 {
		return errors.New("no job handlers registered")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, b := range r.bindings {
		wg.Add(1)
		go func(b binding) {
			defer wg.Done()

			r.logger.Info().Str("queue", b.queue).Msg("worker consuming queue")
			err := r.consumer.Consume(ctx, b.queue, r.Handler(b.jobType, b.handler))
			if err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("consume %s: %w", b.queue, err)
				}
				mu.Unlock()
			}
		}(b)
	}

	wg.Wait()
	return firstErr
}

// Handler adapts a JobHandler to the queue's delivery contract.
func (r *Runner) Handler(jobType models.JobType, handler JobHandler) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		var payload service.JobQueuePayload
		if err := msg.Decode(&payload); err != nil || payload.JobID == "" {
			r.logger.Error().Err(err).Str("queue", msg.Queue).Str("message_id", msg.ID).Msg("dropping message without job id")
			observability.QueueDeliveries().WithLabelValues(msg.Queue, "dropped").Inc()
			return nil
		}

		ctx = observability.WithCorrelationID(ctx, payload.CorrelationID)
		logger := observability.Logger(ctx, r.logger).With().
			Str("job_id", payload.JobID).
			Str("job_type", string(jobType)).
			Int("attempt", msg.Attempt+1).
			Logger()

		spanCtx, span := r.tracer.Start(ctx, "jobs.handle", trace.WithAttributes(
			attribute.String("job.id", payload.JobID),
			attribute.String("job.type", string(jobType)),
			attribute.Int("job.delivery", msg.Attempt+1),
		))
		defer span.End()

		start := time.Now()
		err := r.invoke(spanCtx, handler, payload.JobID)
		outcome := "completed"

		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "completed")
			logger.Debug().Msg("job delivery handled")
		case errors.Is(err, service.ErrJobNotFound):
			outcome = "dropped"
			err = nil
			logger.Warn().Msg("job row missing, dropping delivery")
		default:
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed")
			if _, markErr := r.jobs.MarkFailed(spanCtx, payload.JobID, err); markErr != nil {
				logger.Error().Err(markErr).Msg("failed to record job failure")
			}
			logger.Warn().Err(err).Msg("job delivery failed")
		}

		observability.JobDuration().WithLabelValues(string(jobType), outcome).Observe(time.Since(start).Seconds())
		observability.QueueDeliveries().WithLabelValues(msg.Queue, outcome).Inc()
		return err
	}
}

func (r *Runner) invoke(ctx context.Context, handler JobHandler, jobID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job handler panic: %v", rec)
		}
	}()
	return handler.Handle(ctx, jobID)
}
