package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

// OptInRequest enrols a user into an assessment.
type OptInRequest struct {
	UserID       string `json:"userId"`
	AssessmentID string `json:"assessmentId" validate:"required"`
}

// StartSessionRequest moves an opted-in session to ACTIVE.
type StartSessionRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	UserID    string `json:"userId"`
}

// SubmitSectionRequest carries the answers for the next section of a session.
type SubmitSectionRequest struct {
	UserID       string          `json:"userId"`
	SectionID    string          `json:"sectionId" validate:"required,max=128"`
	SectionIndex *int            `json:"sectionIndex" validate:"required,min=0"`
	Answers      json.RawMessage `json:"answers" validate:"required"`
}

// CompleteSessionRequest identifies the caller completing a session.
type CompleteSessionRequest struct {
	UserID string `json:"userId"`
}

// SubmitSectionResponse acknowledges an accepted section.
type SubmitSectionResponse struct {
	OK                bool `json:"ok"`
	NextSectionIndex  int  `json:"nextSectionIndex"`
	RemainingSections int  `json:"remainingSections"`
}

// CompleteSessionResponse returns the evaluation job created for a completed session.
type CompleteSessionResponse struct {
	OK              bool   `json:"ok"`
	EvaluationJobID string `json:"evaluationJobId"`
}

// SectionSubmissionResponse is the public shape of a stored section submission.
type SectionSubmissionResponse struct {
	ID           string          `json:"id"`
	SectionID    string          `json:"sectionId"`
	SectionIndex int             `json:"sectionIndex"`
	Answers      json.RawMessage `json:"answers"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SessionResponse is the public shape of a session.
type SessionResponse struct {
	ID                  string                      `json:"id"`
	UserID              string                      `json:"userId"`
	AssessmentID        string                      `json:"assessmentId"`
	Status              string                      `json:"status"`
	TotalSections       int                         `json:"totalSections"`
	CurrentSectionIndex int                         `json:"currentSectionIndex"`
	StartedAt           *time.Time                  `json:"startedAt"`
	LastActivityAt      *time.Time                  `json:"lastActivityAt"`
	CompletedAt         *time.Time                  `json:"completedAt"`
	CreatedAt           time.Time                   `json:"createdAt"`
	Submissions         []SectionSubmissionResponse `json:"submissions"`
}

// NewSessionResponse maps a session model to its response representation.
func NewSessionResponse(session models.Session) SessionResponse {
	submissions := make([]SectionSubmissionResponse, 0, len(session.Submissions))
	for _, submission := range session.Submissions {
		answers := json.RawMessage(submission.Answers)
		if len(answers) == 0 {
			answers = json.RawMessage("null")
		}
		submissions = append(submissions, SectionSubmissionResponse{
			ID:           submission.ID,
			SectionID:    submission.SectionID,
			SectionIndex: submission.SectionIndex,
			Answers:      answers,
			CreatedAt:    submission.CreatedAt,
		})
	}

	return SessionResponse{
		ID:                  session.ID,
		UserID:              session.UserID,
		AssessmentID:        session.AssessmentID,
		Status:              string(session.Status),
		TotalSections:       session.TotalSections,
		CurrentSectionIndex: session.CurrentSectionIndex,
		StartedAt:           session.StartedAt,
		LastActivityAt:      session.LastActivityAt,
		CompletedAt:         session.CompletedAt,
		CreatedAt:           session.CreatedAt,
		Submissions:         submissions,
	}
}

// NewSessionResponseSlice maps a list of sessions.
func NewSessionResponseSlice(sessions []models.Session) []SessionResponse {
	responses := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, NewSessionResponse(session))
	}
	return responses
}
