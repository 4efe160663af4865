package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/repository"
	"github.com/noah-isme/gema-assess-api/internal/service"
	"github.com/noah-isme/gema-assess-api/pkg/ai"
)

// EvaluationWorker grades a completed session through the AI gateway.
type EvaluationWorker struct {
	jobs     service.JobService
	sessions repository.SessionRepository
	gateway  ai.Gateway
	logger   zerolog.Logger
}

// NewEvaluationWorker constructs an evaluation worker.
func NewEvaluationWorker(jobs service.JobService, sessions repository.SessionRepository, gateway ai.Gateway, logger zerolog.Logger) *EvaluationWorker {
	return &EvaluationWorker{
		jobs:     jobs,
		sessions: sessions,
		gateway:  gateway,
		logger:   logger.With().Str("component", "evaluation_worker").Logger(),
	}
}

// Handle processes one delivery of an evaluation job.
func (w *EvaluationWorker) Handle(ctx context.Context, jobID string) error {
	job, err := w.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusCompleted {
		observability.Logger(ctx, w.logger).Debug().Str("job_id", jobID).Msg("evaluation job already completed")
		return nil
	}
	if job.Type != models.JobTypeEvaluation {
		return fmt.Errorf("%w: %s", ErrUnexpectedJobType, job.Type)
	}

	sessionID := job.PayloadString("sessionId")
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId missing", ErrInvalidJobPayload)
	}

	session, err := w.sessions.GetForEvaluation(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", service.ErrSessionNotFound, sessionID)
		}
		return err
	}
	if session.Status != models.SessionStatusCompleted {
		return fmt.Errorf("%w: session is %s", ErrSessionNotCompleted, session.Status)
	}

	input, err := evaluationInput(session)
	if err != nil {
		return err
	}

	result, err := w.gateway.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("%w: %w", service.ErrUpstream, err)
	}

	breakdown := make([]interface{}, 0, len(result.SectionBreakdown))
	for _, entry := range result.SectionBreakdown {
		breakdown = append(breakdown, entry)
	}

	if _, err := w.jobs.MarkCompleted(ctx, jobID, datatypes.JSONMap{
		"sessionId":        session.ID,
		"score":            result.Score,
		"feedback":         result.Feedback,
		"sectionBreakdown": breakdown,
	}); err != nil {
		return err
	}

	observability.Logger(ctx, w.logger).Info().
		Str("job_id", jobID).
		Str("session_id", session.ID).
		Float64("score", result.Score).
		Msg("session evaluated")
	return nil
}

func evaluationInput(session models.Session) (ai.EvaluationInput, error) {
	assessment, err := json.Marshal(session.Assessment.Content.Data())
	if err != nil {
		return ai.EvaluationInput{}, err
	}

	answers := make([]ai.SectionAnswer, 0, len(session.Submissions))
	for _, submission := range session.Submissions {
		payload := json.RawMessage(submission.Answers)
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		answers = append(answers, ai.SectionAnswer{
			SectionID:    submission.SectionID,
			SectionIndex: submission.SectionIndex,
			Answers:      payload,
		})
	}

	return ai.EvaluationInput{Assessment: assessment, Answers: answers}, nil
}
