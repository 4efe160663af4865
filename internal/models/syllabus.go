package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Syllabus is an uploaded piece of source material. Rows are never updated.
type Syllabus struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SubjectName string    `gorm:"size:255;not null" json:"subject_name"`
	RawText     string    `gorm:"type:text;not null" json:"raw_text"`
	SourceFile  string    `gorm:"size:512" json:"source_file"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (s *Syllabus) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// TableName pins the table name.
func (s Syllabus) TableName() string {
	return "syllabi"
}
