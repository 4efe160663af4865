package dto

import (
	"time"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

// SyllabusTextRequest registers syllabus material supplied as plain text.
type SyllabusTextRequest struct {
	SubjectName string `json:"subjectName" validate:"required,max=255"`
	RawText     string `json:"rawText" validate:"required"`
	SourceFile  string `json:"sourceFile" validate:"omitempty,max=512"`
}

// SyllabusFile is an uploaded syllabus document.
type SyllabusFile struct {
	Name    string
	Content []byte
}

// SyllabusResponse is the public shape of a syllabus.
type SyllabusResponse struct {
	ID          string    `json:"id"`
	SubjectName string    `json:"subjectName"`
	SourceFile  string    `json:"sourceFile"`
	TextLength  int       `json:"textLength"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SyllabusListResponse wraps a batch of syllabi.
type SyllabusListResponse struct {
	Count int                `json:"count"`
	Items []SyllabusResponse `json:"items"`
}

// NewSyllabusResponse maps a syllabus model to its response representation.
func NewSyllabusResponse(item models.Syllabus) SyllabusResponse {
	return SyllabusResponse{
		ID:          item.ID,
		SubjectName: item.SubjectName,
		SourceFile:  item.SourceFile,
		TextLength:  len(item.RawText),
		CreatedAt:   item.CreatedAt,
	}
}

// NewSyllabusListResponse maps syllabus models to their response representation.
func NewSyllabusListResponse(items []models.Syllabus) SyllabusListResponse {
	responses := make([]SyllabusResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewSyllabusResponse(item))
	}
	return SyllabusListResponse{Count: len(responses), Items: responses}
}
