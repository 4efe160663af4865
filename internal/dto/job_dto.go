package dto

import (
	"time"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

// JobStatusResponse is returned by operations that create or find a job.
type JobStatusResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

// JobAttemptResponse is one entry of a job's attempt history.
type JobAttemptResponse struct {
	Attempt   int       `json:"attempt"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobResponse is the public shape of an AI job.
type JobResponse struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Status       string                 `json:"status"`
	DedupeKey    string                 `json:"dedupeKey"`
	Payload      map[string]interface{} `json:"payload"`
	Result       map[string]interface{} `json:"result"`
	Attempts     int                    `json:"attempts"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	History      []JobAttemptResponse   `json:"history"`
}

// NewJobResponse maps a job model to its response representation.
func NewJobResponse(job models.AIJob) JobResponse {
	history := make([]JobAttemptResponse, 0, len(job.AttemptLog))
	for _, attempt := range job.AttemptLog {
		history = append(history, JobAttemptResponse{
			Attempt:   attempt.Attempt,
			Status:    string(attempt.Status),
			Error:     attempt.Error,
			CreatedAt: attempt.CreatedAt,
		})
	}

	return JobResponse{
		ID:           job.ID,
		Type:         string(job.Type),
		Status:       string(job.Status),
		DedupeKey:    job.DedupeKey,
		Payload:      map[string]interface{}(job.Payload),
		Result:       map[string]interface{}(job.Result),
		Attempts:     job.Attempts,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		History:      history,
	}
}

// JobEvent is broadcast whenever a job changes state.
type JobEvent struct {
	JobID        string                 `json:"jobId"`
	Type         string                 `json:"type"`
	Status       string                 `json:"status"`
	Attempts     int                    `json:"attempts"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	OccurredAt   time.Time              `json:"occurredAt"`
}

// NewJobEvent builds the event describing the job's current state.
func NewJobEvent(job models.AIJob) JobEvent {
	return JobEvent{
		JobID:        job.ID,
		Type:         string(job.Type),
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		Result:       map[string]interface{}(job.Result),
		ErrorMessage: job.ErrorMessage,
		OccurredAt:   time.Now().UTC(),
	}
}
