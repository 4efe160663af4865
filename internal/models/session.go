package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionStatus enumerates the lifecycle states of an assessment session.
type SessionStatus string

const (
	SessionStatusOptedIn   SessionStatus = "OPTED_IN"
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible from the status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired
}

// Session tracks one user's progress through an assessment.
type Session struct {
	ID                  string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID              string              `gorm:"size:128;not null;index:idx_sessions_user_status" json:"user_id"`
	AssessmentID        string              `gorm:"type:varchar(36);not null;index" json:"assessment_id"`
	Status              SessionStatus       `gorm:"size:16;not null;index:idx_sessions_user_status" json:"status"`
	TotalSections       int                 `gorm:"not null" json:"total_sections"`
	CurrentSectionIndex int                 `gorm:"not null;default:0" json:"current_section_index"`
	StartedAt           *time.Time          `json:"started_at"`
	LastActivityAt      *time.Time          `json:"last_activity_at"`
	CompletedAt         *time.Time          `json:"completed_at"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	Assessment          Assessment          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Submissions         []SectionSubmission `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"submissions,omitempty"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// TableName pins the table name.
func (s Session) TableName() string {
	return "sessions"
}

// AllSectionsSubmitted reports whether the session is eligible for completion.
func (s Session) AllSectionsSubmitted() bool {
	return s.CurrentSectionIndex == s.TotalSections
}

// SectionSubmission is the append-only record of one accepted section.
type SectionSubmission struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID    string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_section_submissions_session_index" json:"session_id"`
	SectionID    string         `gorm:"size:128;not null" json:"section_id"`
	SectionIndex int            `gorm:"not null;uniqueIndex:idx_section_submissions_session_index" json:"section_index"`
	Answers      datatypes.JSON `json:"answers"`
	CreatedAt    time.Time      `json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (s *SectionSubmission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// TableName pins the table name.
func (s SectionSubmission) TableName() string {
	return "section_submissions"
}
