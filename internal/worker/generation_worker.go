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

// GenerationWorker turns a GENERATION job into a stored assessment.
type GenerationWorker struct {
	jobs        service.JobService
	syllabi     repository.SyllabusRepository
	assessments repository.AssessmentRepository
	gateway     ai.Gateway
	logger      zerolog.Logger
}

// NewGenerationWorker constructs a generation worker.
func NewGenerationWorker(jobs service.JobService, syllabi repository.SyllabusRepository, assessments repository.AssessmentRepository, gateway ai.Gateway, logger zerolog.Logger) *GenerationWorker {
	return &GenerationWorker{
		jobs:        jobs,
		syllabi:     syllabi,
		assessments: assessments,
		gateway:     gateway,
		logger:      logger.With().Str("component", "generation_worker").Logger(),
	}
}

// Handle processes one delivery of a generation job. Redeliveries of a completed job and
// jobs whose assessment already exists finish without calling the AI provider.
func (w *GenerationWorker) Handle(ctx context.Context, jobID string) error {
	job, err := w.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusCompleted {
		observability.Logger(ctx, w.logger).Debug().Str("job_id", jobID).Msg("generation job already completed")
		return nil
	}
	if job.Type != models.JobTypeGeneration {
		return fmt.Errorf("%w: %s", ErrUnexpectedJobType, job.Type)
	}

	hash := job.PayloadString("syllabusHash")
	if hash == "" {
		return fmt.Errorf("%w: syllabusHash missing", ErrInvalidJobPayload)
	}

	existing, err := w.assessments.GetByHash(ctx, hash)
	switch {
	case err == nil:
		_, err = w.jobs.MarkCompleted(ctx, jobID, generationResult(existing))
		return err
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	syllabi, err := w.syllabi.List(ctx)
	if err != nil {
		return err
	}
	if service.Fingerprint(syllabi) != hash {
		return ErrSyllabusChanged
	}

	inputs := make([]ai.SyllabusInput, 0, len(syllabi))
	for _, syllabus := range syllabi {
		inputs = append(inputs, ai.SyllabusInput{SubjectName: syllabus.SubjectName, RawText: syllabus.RawText})
	}

	raw, err := w.gateway.Generate(ctx, inputs)
	if err != nil {
		return fmt.Errorf("%w: %w", service.ErrUpstream, err)
	}

	content, err := decodeAssessment(raw)
	if err != nil {
		return err
	}

	_, err = w.jobs.CompleteWith(ctx, jobID, func(tx *gorm.DB) (datatypes.JSONMap, error) {
		assessments := w.assessments.WithTx(tx)

		assessment := models.Assessment{
			SyllabusHash: hash,
			Content:      datatypes.NewJSONType(content),
		}
		created, err := assessments.CreateIfAbsent(ctx, &assessment)
		if err != nil {
			return nil, err
		}
		if !created {
			assessment, err = assessments.GetByHash(ctx, hash)
			if err != nil {
				return nil, err
			}
		}
		return generationResult(assessment), nil
	})
	if err != nil {
		return err
	}

	observability.Logger(ctx, w.logger).Info().
		Str("job_id", jobID).
		Str("syllabus_hash", hash).
		Int("total_sections", content.TotalSections()).
		Msg("assessment generated")
	return nil
}

func decodeAssessment(raw json.RawMessage) (models.AssessmentContent, error) {
	if err := ai.ValidateAssessment(raw); err != nil {
		return models.AssessmentContent{}, fmt.Errorf("%w: %w", ErrInvalidAssessment, err)
	}

	var content models.AssessmentContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return models.AssessmentContent{}, fmt.Errorf("%w: %w", ErrInvalidAssessment, err)
	}
	if content.TotalSections() == 0 {
		return models.AssessmentContent{}, fmt.Errorf("%w: no sections", ErrInvalidAssessment)
	}
	return content, nil
}

func generationResult(assessment models.Assessment) datatypes.JSONMap {
	return datatypes.JSONMap{
		"assessmentId":  assessment.ID,
		"syllabusHash":  assessment.SyllabusHash,
		"totalSections": assessment.Content.Data().TotalSections(),
	}
}
