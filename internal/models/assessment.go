package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Assessment is generated content addressed by the fingerprint of the syllabus set it was built from.
type Assessment struct {
	ID           string                                `gorm:"type:varchar(36);primaryKey" json:"id"`
	SyllabusHash string                                `gorm:"size:64;not null;uniqueIndex" json:"syllabus_hash"`
	Content      datatypes.JSONType[AssessmentContent] `json:"content"`
	CreatedAt    time.Time                             `json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (a *Assessment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// TableName pins the table name.
func (a Assessment) TableName() string {
	return "assessments"
}

// AssessmentContent is the subjects → sections → questions tree produced by the generator.
type AssessmentContent struct {
	Subjects []AssessmentSubject `json:"subjects"`
}

// AssessmentSubject groups the sections generated for one syllabus subject.
type AssessmentSubject struct {
	Name     string              `json:"name"`
	Sections []AssessmentSection `json:"sections"`
}

// AssessmentSection is the unit a session submits answers for.
type AssessmentSection struct {
	Title     string               `json:"title"`
	MaxScore  float64              `json:"max_score"`
	Questions []AssessmentQuestion `json:"questions"`
}

// AssessmentQuestion is a single prompt inside a section.
type AssessmentQuestion struct {
	ID         string  `json:"id"`
	Question   string  `json:"question"`
	MaxScore   float64 `json:"max_score"`
	Difficulty string  `json:"difficulty"`
}

// TotalSections counts sections across all subjects.
func (c AssessmentContent) TotalSections() int {
	total := 0
	for _, subject := range c.Subjects {
		total += len(subject.Sections)
	}
	return total
}

// SectionAt resolves a flattened section index into its subject name and section.
func (c AssessmentContent) SectionAt(index int) (string, AssessmentSection, bool) {
	if index < 0 {
		return "", AssessmentSection{}, false
	}
	for _, subject := range c.Subjects {
		if index < len(subject.Sections) {
			return subject.Name, subject.Sections[index], true
		}
		index -= len(subject.Sections)
	}
	return "", AssessmentSection{}, false
}
