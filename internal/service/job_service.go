package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/repository"
	"github.com/noah-isme/gema-assess-api/pkg/queue"
)

const (
	// GenerationQueue carries GENERATION job ids.
	GenerationQueue = "assessment-generation"
	// EvaluationQueue carries EVALUATION job ids.
	EvaluationQueue = "assessment-evaluation"

	maxErrorMessageLength = 2000
	stalePendingBatchSize = 100
)

// QueueForJob returns the queue that carries jobs of the given type.
func QueueForJob(jobType models.JobType) string {
	if jobType == models.JobTypeEvaluation {
		return EvaluationQueue
	}
	return GenerationQueue
}

// JobQueuePayload is the body of every queue message; workers reload the job by id.
// CorrelationID carries the id of the request that queued the job into the worker's logs.
type JobQueuePayload struct {
	JobID         string `json:"jobId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// JobHandle reports the job a create-or-find call converged on.
type JobHandle struct {
	Created bool
	Job     models.AIJob
}

// JobServiceConfig carries the queue retry policy applied to every enqueued job.
type JobServiceConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// JobService creates, advances and enqueues AI jobs while keeping their attempt history.
type JobService interface {
	CreateOrFindJob(ctx context.Context, tx *gorm.DB, jobType models.JobType, dedupeKey string, payload datatypes.JSONMap) (JobHandle, error)
	Enqueue(ctx context.Context, job models.AIJob) (bool, error)
	MarkProcessing(ctx context.Context, jobID string) (models.AIJob, error)
	MarkCompleted(ctx context.Context, jobID string, result datatypes.JSONMap) (models.AIJob, error)
	CompleteWith(ctx context.Context, jobID string, fn func(tx *gorm.DB) (datatypes.JSONMap, error)) (models.AIJob, error)
	MarkFailed(ctx context.Context, jobID string, cause error) (models.AIJob, error)
	GetJob(ctx context.Context, jobID string) (models.AIJob, error)
	RetryJob(ctx context.Context, jobID string) (models.AIJob, error)
	ListStalePending(ctx context.Context, olderThan time.Duration) ([]models.AIJob, error)
}

type jobService struct {
	db       *gorm.DB
	jobs     repository.AIJobRepository
	enqueuer queue.Enqueuer
	events   JobEventBus
	cfg      JobServiceConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewJobService constructs the job orchestrator. events may be nil.
func NewJobService(db *gorm.DB, jobs repository.AIJobRepository, enqueuer queue.Enqueuer, events JobEventBus, cfg JobServiceConfig, logger zerolog.Logger) JobService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}

	return &jobService{
		db:       db,
		jobs:     jobs,
		enqueuer: enqueuer,
		events:   events,
		cfg:      cfg,
		logger:   logger.With().Str("component", "job_service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrFindJob inserts a PENDING job or, when the dedupe key is taken, returns the existing row.
// A non-nil tx makes the insert part of the caller's transaction.
func (s *jobService) CreateOrFindJob(ctx context.Context, tx *gorm.DB, jobType models.JobType, dedupeKey string, payload datatypes.JSONMap) (JobHandle, error) {
	if dedupeKey == "" {
		return JobHandle{}, fmt.Errorf("%w: dedupe key is required", ErrInvalidInput)
	}

	jobs := s.jobs
	if tx != nil {
		jobs = s.jobs.WithTx(tx)
	}

	job := models.AIJob{
		Type:      jobType,
		Status:    models.JobStatusPending,
		DedupeKey: dedupeKey,
		Payload:   payload,
	}

	created, err := jobs.InsertIfAbsent(ctx, &job)
	if err != nil {
		return JobHandle{}, fmt.Errorf("insert job %s: %w", dedupeKey, err)
	}
	if created {
		observability.JobTransitions().WithLabelValues(string(jobType), string(models.JobStatusPending)).Inc()
		return JobHandle{Created: true, Job: job}, nil
	}

	existing, err := jobs.GetByDedupeKey(ctx, dedupeKey)
	if err != nil {
		return JobHandle{}, fmt.Errorf("load job %s: %w", dedupeKey, err)
	}
	return JobHandle{Created: false, Job: existing}, nil
}

// Enqueue publishes the job id on its queue. The job id doubles as the idempotency key, so
// enqueueing a job that is still live in the queue is a no-op reported as false.
func (s *jobService) Enqueue(ctx context.Context, job models.AIJob) (bool, error) {
	if s.enqueuer == nil {
		return false, errors.New("job queue is not configured")
	}

	_, created, err := s.enqueuer.Enqueue(ctx, QueueForJob(job.Type), JobQueuePayload{
		JobID:         job.ID,
		CorrelationID: observability.CorrelationID(ctx),
	}, queue.Options{
		IdempotencyKey: job.ID,
		MaxAttempts:    s.cfg.MaxAttempts,
		Backoff:        s.cfg.InitialBackoff,
	})
	if err != nil {
		return false, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	if created {
		observability.Logger(ctx, s.logger).Debug().Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("job enqueued")
		s.publish(ctx, job)
	}
	return created, nil
}

// MarkProcessing moves any job that is not COMPLETED to PROCESSING and counts the attempt.
// A COMPLETED job is returned unchanged so redeliveries can exit early.
func (s *jobService) MarkProcessing(ctx context.Context, jobID string) (models.AIJob, error) {
	rows, err := s.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		return models.AIJob{}, err
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return models.AIJob{}, s.notFound(err)
	}

	if rows > 0 {
		s.recordTransition(ctx, job)
	}
	return job, nil
}

func (s *jobService) MarkCompleted(ctx context.Context, jobID string, result datatypes.JSONMap) (models.AIJob, error) {
	return s.CompleteWith(ctx, jobID, func(*gorm.DB) (datatypes.JSONMap, error) {
		return result, nil
	})
}

// CompleteWith runs fn and completes the job in one transaction, so domain rows written by
// fn and the COMPLETED status become visible together. Only a PROCESSING job can complete.
func (s *jobService) CompleteWith(ctx context.Context, jobID string, fn func(tx *gorm.DB) (datatypes.JSONMap, error)) (models.AIJob, error) {
	var completed models.AIJob

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := s.jobs.WithTx(tx)

		job, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			return s.notFound(err)
		}
		if job.Status != models.JobStatusProcessing {
			return fmt.Errorf("%w: job %s is %s", ErrJobStateConflict, jobID, job.Status)
		}

		result, err := fn(tx)
		if err != nil {
			return err
		}

		rows, err := jobs.MarkCompleted(ctx, jobID, result)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: job %s left PROCESSING", ErrJobStateConflict, jobID)
		}

		if err := jobs.AppendAttempt(ctx, &models.AIJobAttempt{
			JobID:   jobID,
			Attempt: attemptNumber(job),
			Status:  models.JobStatusCompleted,
		}); err != nil {
			return err
		}

		job.Status = models.JobStatusCompleted
		job.Result = result
		job.ErrorMessage = ""
		completed = job
		return nil
	})
	if err != nil {
		return models.AIJob{}, err
	}

	s.recordTransition(ctx, completed)
	return completed, nil
}

// MarkFailed records the failed attempt and moves the job to FAILED unless it already completed.
func (s *jobService) MarkFailed(ctx context.Context, jobID string, cause error) (models.AIJob, error) {
	message := "unknown error"
	if cause != nil {
		message = truncateMessage(cause.Error(), maxErrorMessageLength)
	}

	var failed models.AIJob
	var transitioned bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := s.jobs.WithTx(tx)

		job, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			return s.notFound(err)
		}

		if err := jobs.AppendAttempt(ctx, &models.AIJobAttempt{
			JobID:   jobID,
			Attempt: attemptNumber(job),
			Status:  models.JobStatusFailed,
			Error:   message,
		}); err != nil {
			return err
		}

		rows, err := jobs.MarkFailed(ctx, jobID, message)
		if err != nil {
			return err
		}
		if rows > 0 {
			job.Status = models.JobStatusFailed
			job.ErrorMessage = message
			transitioned = true
		}
		failed = job
		return nil
	})
	if err != nil {
		return models.AIJob{}, err
	}

	if transitioned {
		s.recordTransition(ctx, failed)
	}
	return failed, nil
}

func (s *jobService) GetJob(ctx context.Context, jobID string) (models.AIJob, error) {
	job, err := s.jobs.GetWithAttempts(ctx, jobID)
	if err != nil {
		return models.AIJob{}, s.notFound(err)
	}
	return job, nil
}

// RetryJob resets a FAILED job to PENDING and enqueues it again.
func (s *jobService) RetryJob(ctx context.Context, jobID string) (models.AIJob, error) {
	rows, err := s.jobs.ResetFailed(ctx, jobID)
	if err != nil {
		return models.AIJob{}, err
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return models.AIJob{}, s.notFound(err)
	}
	if rows == 0 {
		return models.AIJob{}, fmt.Errorf("%w: job %s is %s", ErrJobNotRetryable, jobID, job.Status)
	}

	observability.JobTransitions().WithLabelValues(string(job.Type), string(job.Status)).Inc()

	if _, err := s.Enqueue(ctx, job); err != nil {
		return models.AIJob{}, err
	}
	return job, nil
}

// ListStalePending returns PENDING jobs untouched for longer than olderThan.
func (s *jobService) ListStalePending(ctx context.Context, olderThan time.Duration) ([]models.AIJob, error) {
	return s.jobs.ListPendingBefore(ctx, s.now().Add(-olderThan), stalePendingBatchSize)
}

func (s *jobService) recordTransition(ctx context.Context, job models.AIJob) {
	observability.JobTransitions().WithLabelValues(string(job.Type), string(job.Status)).Inc()
	s.publish(ctx, job)
}

func (s *jobService) publish(ctx context.Context, job models.AIJob) {
	if s.events != nil {
		s.events.Publish(ctx, job)
	}
}

func (s *jobService) notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrJobNotFound
	}
	return err
}

// truncateMessage drops invalid UTF-8 and cuts to at most limit bytes on a rune boundary.
func truncateMessage(message string, limit int) string {
	message = strings.ToValidUTF8(message, "")
	if len(message) <= limit {
		return message
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}

func attemptNumber(job models.AIJob) int {
	if job.Attempts < 1 {
		return 1
	}
	return job.Attempts
}
