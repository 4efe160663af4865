package ai

import (
	"context"
	"encoding/json"
	"fmt"
)

// MockGateway produces deterministic content without calling a provider. It is used when no
// API key is configured so the whole pipeline can run offline.
type MockGateway struct{}

// NewMockGateway constructs the offline gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

type mockQuestion struct {
	ID         string  `json:"id"`
	Question   string  `json:"question"`
	MaxScore   float64 `json:"max_score"`
	Difficulty string  `json:"difficulty"`
}

type mockSection struct {
	Title     string         `json:"title"`
	MaxScore  float64        `json:"max_score"`
	Questions []mockQuestion `json:"questions"`
}

type mockSubject struct {
	Name     string        `json:"name"`
	Sections []mockSection `json:"sections"`
}

// Generate returns one section with two questions per subject.
func (m *MockGateway) Generate(ctx context.Context, syllabi []SyllabusInput) (json.RawMessage, error) {
	if len(syllabi) == 0 {
		return nil, fmt.Errorf("at least one syllabus is required")
	}

	subjects := make([]mockSubject, 0, len(syllabi))
	for idx, s := range syllabi {
		subjects = append(subjects, mockSubject{
			Name: s.SubjectName,
			Sections: []mockSection{{
				Title:    fmt.Sprintf("Core Concepts %d", idx+1),
				MaxScore: 10,
				Questions: []mockQuestion{
					{ID: "Q1", Question: fmt.Sprintf("Explain one core concept from %s.", s.SubjectName), MaxScore: 5, Difficulty: "medium"},
					{ID: "Q2", Question: fmt.Sprintf("Solve one applied problem from %s.", s.SubjectName), MaxScore: 5, Difficulty: "hard"},
				},
			}},
		})
	}

	raw, err := json.Marshal(map[string]interface{}{"subjects": subjects})
	if err != nil {
		return nil, err
	}
	if err := ValidateAssessment(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Evaluate returns a fixed score with one breakdown entry per submitted section.
func (m *MockGateway) Evaluate(ctx context.Context, input EvaluationInput) (EvaluationResult, error) {
	breakdown := make([]map[string]interface{}, 0, len(input.Answers))
	for _, answer := range input.Answers {
		breakdown = append(breakdown, map[string]interface{}{
			"section_id":    answer.SectionID,
			"section_index": answer.SectionIndex,
			"score":         75,
		})
	}

	return EvaluationResult{
		Score:            75,
		Feedback:         "Mock evaluation result.",
		SectionBreakdown: breakdown,
	}, nil
}
