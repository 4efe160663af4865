package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/repository"
)

// SessionServiceConfig tunes the session state machine.
type SessionServiceConfig struct {
	InactivityTimeout time.Duration
}

// SubmitSectionInput carries one section submission.
type SubmitSectionInput struct {
	SessionID    string
	UserID       string
	SectionID    string
	SectionIndex int
	Answers      json.RawMessage
}

// SubmitSectionResult acknowledges an accepted section.
type SubmitSectionResult struct {
	OK                bool
	NextSectionIndex  int
	RemainingSections int
}

// CompleteResult carries the evaluation job created or found for a completed session.
type CompleteResult struct {
	OK              bool
	EvaluationJobID string
}

// SessionService drives sessions through OPTED_IN, ACTIVE, COMPLETED and EXPIRED.
type SessionService interface {
	OptIn(ctx context.Context, userID, assessmentID string) (models.Session, error)
	Start(ctx context.Context, sessionID, userID string) (models.Session, error)
	SubmitSection(ctx context.Context, input SubmitSectionInput) (SubmitSectionResult, error)
	Complete(ctx context.Context, sessionID, userID string) (CompleteResult, error)
	GetSession(ctx context.Context, sessionID, userID string) (models.Session, error)
	ListSessions(ctx context.Context, userID string) ([]models.Session, error)
}

type sessionService struct {
	sessions    repository.SessionRepository
	assessments repository.AssessmentRepository
	locks       repository.ResourceLock
	jobs        JobService
	cfg         SessionServiceConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSessionService constructs the session state machine.
func NewSessionService(sessions repository.SessionRepository, assessments repository.AssessmentRepository, locks repository.ResourceLock, jobs JobService, cfg SessionServiceConfig, logger zerolog.Logger) SessionService {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}

	return &sessionService{
		sessions:    sessions,
		assessments: assessments,
		locks:       locks,
		jobs:        jobs,
		cfg:         cfg,
		logger:      logger.With().Str("component", "session_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-assess-api/internal/service/session"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *sessionService) OptIn(ctx context.Context, userID, assessmentID string) (models.Session, error) {
	userID = strings.TrimSpace(userID)
	assessmentID = strings.TrimSpace(assessmentID)
	if userID == "" || assessmentID == "" {
		return models.Session{}, fmt.Errorf("%w: user id and assessment id are required", ErrInvalidInput)
	}

	assessment, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Session{}, ErrAssessmentNotFound
		}
		return models.Session{}, err
	}

	totalSections := assessment.Content.Data().TotalSections()
	if totalSections == 0 {
		return models.Session{}, ErrAssessmentHasNoSections
	}

	session := models.Session{
		UserID:        userID,
		AssessmentID:  assessment.ID,
		Status:        models.SessionStatusOptedIn,
		TotalSections: totalSections,
	}
	if err := s.sessions.Create(ctx, &session); err != nil {
		return models.Session{}, err
	}

	observability.SessionTransitions().WithLabelValues(string(models.SessionStatusOptedIn)).Inc()
	return session, nil
}

// Start activates an OPTED_IN session. The per-user lock serialises concurrent starts so at
// most one session per user is ACTIVE; the conditional update catches anything that bypasses it.
func (s *sessionService) Start(ctx context.Context, sessionID, userID string) (models.Session, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(userID) == "" {
		return models.Session{}, fmt.Errorf("%w: session id and user id are required", ErrInvalidInput)
	}

	spanCtx, span := s.tracer.Start(ctx, "sessions.start", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	var (
		started models.Session
		expired int64
		outcome error
	)

	err := s.locks.WithLock(spanCtx, "user:"+userID, func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		now := s.now()

		count, err := sessions.ExpireStale(spanCtx, userID, now.Add(-s.cfg.InactivityTimeout))
		if err != nil {
			return err
		}
		expired = count

		active, err := sessions.CountActive(spanCtx, userID)
		if err != nil {
			return err
		}
		if active > 0 {
			outcome = ErrActiveSessionExists
			return nil
		}

		rows, err := sessions.Activate(spanCtx, sessionID, userID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			current, err := sessions.GetByID(spanCtx, sessionID)
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				outcome = ErrSessionNotFound
			case err != nil:
				return err
			case current.UserID != userID:
				outcome = ErrSessionNotFound
			default:
				outcome = fmt.Errorf("%w: session is %s", ErrInvalidTransition, current.Status)
			}
			return nil
		}

		started, err = sessions.GetByID(spanCtx, sessionID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return models.Session{}, mapSerialization(err)
	}

	if expired > 0 {
		observability.SessionTransitions().WithLabelValues(string(models.SessionStatusExpired)).Add(float64(expired))
	}
	if outcome != nil {
		return models.Session{}, outcome
	}

	observability.SessionTransitions().WithLabelValues(string(models.SessionStatusActive)).Inc()
	observability.Logger(ctx, s.logger).Info().Str("session_id", sessionID).Str("user_id", userID).Msg("session started")
	return started, nil
}

// SubmitSection accepts the answers for the session's current section and advances it by one.
func (s *sessionService) SubmitSection(ctx context.Context, input SubmitSectionInput) (SubmitSectionResult, error) {
	if err := validateSubmission(input); err != nil {
		return SubmitSectionResult{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "sessions.submit_section", trace.WithAttributes(
		attribute.String("session.id", input.SessionID),
		attribute.Int("section.index", input.SectionIndex),
	))
	defer span.End()

	var (
		result  SubmitSectionResult
		outcome error
	)

	err := s.locks.WithLock(spanCtx, "session:"+input.SessionID, func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		now := s.now()

		gate, err := s.loadActive(spanCtx, sessions, input.SessionID, input.UserID, now)
		if err != nil {
			return err
		}
		if gate.blocked != nil {
			outcome = gate.blocked
			return nil
		}
		session := gate.session

		if input.SectionIndex != session.CurrentSectionIndex {
			outcome = fmt.Errorf("%w: expected section %d, got %d", ErrSectionOutOfOrder, session.CurrentSectionIndex, input.SectionIndex)
			return nil
		}
		if input.SectionIndex >= session.TotalSections {
			outcome = fmt.Errorf("%w: assessment has %d sections", ErrSectionOutOfRange, session.TotalSections)
			return nil
		}

		submission := models.SectionSubmission{
			SessionID:    session.ID,
			SectionID:    strings.TrimSpace(input.SectionID),
			SectionIndex: input.SectionIndex,
			Answers:      datatypes.JSON(input.Answers),
		}
		if err := sessions.CreateSubmission(spanCtx, &submission); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrConcurrentUpdate
			}
			return err
		}

		rows, err := sessions.AdvanceSection(spanCtx, session.ID, input.SectionIndex, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrConcurrentUpdate
		}

		next := input.SectionIndex + 1
		result = SubmitSectionResult{
			OK:                true,
			NextSectionIndex:  next,
			RemainingSections: session.TotalSections - next,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return SubmitSectionResult{}, mapSerialization(err)
	}
	if outcome != nil {
		return SubmitSectionResult{}, outcome
	}

	return result, nil
}

// Complete finishes a session whose sections were all submitted and creates its evaluation job
// in the same transaction. The job is enqueued after commit; a failed enqueue is left to the
// pending-job reconciler and does not fail the call.
func (s *sessionService) Complete(ctx context.Context, sessionID, userID string) (CompleteResult, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(userID) == "" {
		return CompleteResult{}, fmt.Errorf("%w: session id and user id are required", ErrInvalidInput)
	}

	spanCtx, span := s.tracer.Start(ctx, "sessions.complete", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	var (
		job     models.AIJob
		outcome error
	)

	err := s.locks.WithLock(spanCtx, "session:"+sessionID, func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		now := s.now()

		gate, err := s.loadActive(spanCtx, sessions, sessionID, userID, now)
		if err != nil {
			return err
		}
		if gate.blocked != nil {
			outcome = gate.blocked
			return nil
		}
		session := gate.session

		if !session.AllSectionsSubmitted() {
			outcome = fmt.Errorf("%w: %d of %d submitted", ErrSectionsIncomplete, session.CurrentSectionIndex, session.TotalSections)
			return nil
		}

		rows, err := sessions.Complete(spanCtx, session.ID, session.TotalSections, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			outcome = ErrCompletionConflict
			return nil
		}

		handle, err := s.jobs.CreateOrFindJob(spanCtx, tx, models.JobTypeEvaluation, EvaluationDedupeKey(session.ID), datatypes.JSONMap{
			"sessionId": session.ID,
			"userId":    session.UserID,
		})
		if err != nil {
			return err
		}
		job = handle.Job
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return CompleteResult{}, mapSerialization(err)
	}
	if outcome != nil {
		return CompleteResult{}, outcome
	}

	observability.SessionTransitions().WithLabelValues(string(models.SessionStatusCompleted)).Inc()

	if _, err := s.jobs.Enqueue(spanCtx, job); err != nil {
		observability.Logger(ctx, s.logger).Warn().Err(err).Str("session_id", sessionID).Str("job_id", job.ID).Msg("evaluation job left for reconciler")
	}

	return CompleteResult{OK: true, EvaluationJobID: job.ID}, nil
}

// GetSession returns the caller's session with its submissions ordered by section index.
// An ACTIVE session past the inactivity threshold is reported as EXPIRED.
func (s *sessionService) GetSession(ctx context.Context, sessionID, userID string) (models.Session, error) {
	session, err := s.sessions.GetWithSubmissions(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}
	if session.UserID != userID {
		return models.Session{}, ErrSessionNotFound
	}

	session, _ = ReconcileExpiry(session, s.now(), s.cfg.InactivityTimeout)
	return session, nil
}

func (s *sessionService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range sessions {
		sessions[i], _ = ReconcileExpiry(sessions[i], now, s.cfg.InactivityTimeout)
	}
	return sessions, nil
}

// sessionGate is a session read under lock. A non-nil blocked error means the operation
// must stop without rolling back; any expiry update is still committed.
type sessionGate struct {
	session models.Session
	blocked error
}

// loadActive reads the session inside the lock and applies lazy expiry.
func (s *sessionService) loadActive(ctx context.Context, sessions repository.SessionRepository, sessionID, userID string, now time.Time) (sessionGate, error) {
	session, err := sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return sessionGate{blocked: ErrSessionNotFound}, nil
		}
		return sessionGate{}, err
	}
	if session.UserID != userID {
		return sessionGate{blocked: ErrSessionNotFound}, nil
	}

	if reconciled, expired := ReconcileExpiry(session, now, s.cfg.InactivityTimeout); expired {
		if _, err := sessions.MarkExpired(ctx, session.ID); err != nil {
			return sessionGate{}, err
		}
		observability.SessionTransitions().WithLabelValues(string(models.SessionStatusExpired)).Inc()
		observability.Logger(ctx, s.logger).Info().Str("session_id", reconciled.ID).Msg("session expired due to inactivity")
		return sessionGate{session: reconciled, blocked: ErrSessionExpired}, nil
	}

	switch session.Status {
	case models.SessionStatusActive:
		return sessionGate{session: session}, nil
	case models.SessionStatusExpired:
		return sessionGate{session: session, blocked: ErrSessionExpired}, nil
	default:
		return sessionGate{session: session, blocked: fmt.Errorf("%w: session is %s", ErrSessionNotActive, session.Status)}, nil
	}
}

// EvaluationDedupeKey identifies the single evaluation job of a session.
func EvaluationDedupeKey(sessionID string) string {
	return "evaluation:" + sessionID
}

func validateSubmission(input SubmitSectionInput) error {
	switch {
	case strings.TrimSpace(input.SessionID) == "" || strings.TrimSpace(input.UserID) == "":
		return fmt.Errorf("%w: session id and user id are required", ErrInvalidInput)
	case strings.TrimSpace(input.SectionID) == "":
		return fmt.Errorf("%w: section id is required", ErrInvalidInput)
	case input.SectionIndex < 0:
		return fmt.Errorf("%w: section index must not be negative", ErrInvalidInput)
	case len(input.Answers) == 0 || !json.Valid(input.Answers):
		return fmt.Errorf("%w: answers must be valid JSON", ErrInvalidInput)
	}
	return nil
}
