package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assess-api/internal/models"
	"github.com/noah-isme/gema-assess-api/internal/observability"
	"github.com/noah-isme/gema-assess-api/internal/repository"
)

// JobStatusResult reports the job a trigger converged on.
type JobStatusResult struct {
	JobID   string
	Status  models.JobStatus
	Created bool
}

// GenerationService triggers assessment generation for the current syllabus set.
type GenerationService interface {
	TriggerGeneration(ctx context.Context) (JobStatusResult, error)
}

type generationService struct {
	syllabi     repository.SyllabusRepository
	assessments repository.AssessmentRepository
	jobRecords  repository.AIJobRepository
	jobs        JobService
	logger      zerolog.Logger
}

// NewGenerationService constructs the generation trigger.
func NewGenerationService(syllabi repository.SyllabusRepository, assessments repository.AssessmentRepository, jobRecords repository.AIJobRepository, jobs JobService, logger zerolog.Logger) GenerationService {
	return &generationService{
		syllabi:     syllabi,
		assessments: assessments,
		jobRecords:  jobRecords,
		jobs:        jobs,
		logger:      logger.With().Str("component", "generation_service").Logger(),
	}
}

// TriggerGeneration creates or finds the generation job for the current syllabus fingerprint.
// An assessment already generated for the fingerprint short-circuits to its completed job.
func (s *generationService) TriggerGeneration(ctx context.Context) (JobStatusResult, error) {
	syllabi, err := s.syllabi.List(ctx)
	if err != nil {
		return JobStatusResult{}, err
	}
	if len(syllabi) == 0 {
		return JobStatusResult{}, ErrNoSyllabus
	}

	hash := Fingerprint(syllabi)
	dedupeKey := GenerationDedupeKey(hash)

	if _, err := s.assessments.GetByHash(ctx, hash); err == nil {
		job, err := s.jobRecords.GetByDedupeKey(ctx, dedupeKey)
		if err == nil && job.Status == models.JobStatusCompleted {
			return JobStatusResult{JobID: job.ID, Status: job.Status}, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return JobStatusResult{}, err
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return JobStatusResult{}, err
	}

	handle, err := s.jobs.CreateOrFindJob(ctx, nil, models.JobTypeGeneration, dedupeKey, datatypes.JSONMap{
		"syllabusHash": hash,
	})
	if err != nil {
		return JobStatusResult{}, err
	}

	if handle.Created {
		if _, err := s.jobs.Enqueue(ctx, handle.Job); err != nil {
			observability.Logger(ctx, s.logger).Warn().Err(err).Str("job_id", handle.Job.ID).Msg("generation job left for reconciler")
		}
		observability.Logger(ctx, s.logger).Info().Str("job_id", handle.Job.ID).Str("syllabus_hash", hash).Msg("generation job created")
	}

	return JobStatusResult{
		JobID:   handle.Job.ID,
		Status:  handle.Job.Status,
		Created: handle.Created,
	}, nil
}

// Fingerprint is the content address of a syllabus set: the sha256 of every
// "subject:rawText" entry, sorted and joined by "||". Order of the input does not matter.
func Fingerprint(syllabi []models.Syllabus) string {
	entries := make([]string, 0, len(syllabi))
	for _, syllabus := range syllabi {
		entries = append(entries, syllabus.SubjectName+":"+syllabus.RawText)
	}
	sort.Strings(entries)

	sum := sha256.Sum256([]byte(strings.Join(entries, "||")))
	return hex.EncodeToString(sum[:])
}

// GenerationDedupeKey identifies the single generation job of a syllabus fingerprint.
func GenerationDedupeKey(syllabusHash string) string {
	return "generation:" + syllabusHash
}
