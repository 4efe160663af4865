package ai

import (
	"context"
	"encoding/json"
)

// SyllabusInput is the material an assessment is generated from.
type SyllabusInput struct {
	SubjectName string `json:"subjectName"`
	RawText     string `json:"rawText"`
}

// EvaluationInput carries a completed submission to the grader.
type EvaluationInput struct {
	Assessment json.RawMessage `json:"assessment"`
	Answers    []SectionAnswer `json:"answers"`
}

// SectionAnswer is the answers a user submitted for one section.
type SectionAnswer struct {
	SectionID    string          `json:"sectionId"`
	SectionIndex int             `json:"sectionIndex"`
	Answers      json.RawMessage `json:"answers"`
}

// EvaluationResult is the structured feedback returned by the grader.
type EvaluationResult struct {
	Score            float64                  `json:"score"`
	Feedback         string                   `json:"feedback"`
	SectionBreakdown []map[string]interface{} `json:"section_breakdown"`
	Raw              map[string]interface{}   `json:"raw,omitempty"`
}

// Gateway is the AI provider boundary. Generate returns assessment content that already
// passed ValidateAssessment.
type Gateway interface {
	Generate(ctx context.Context, syllabi []SyllabusInput) (json.RawMessage, error)
	Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error)
}
