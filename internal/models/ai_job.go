package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobType identifies the unit of AI work a job performs.
type JobType string

const (
	JobTypeGeneration JobType = "GENERATION"
	JobTypeEvaluation JobType = "EVALUATION"
)

// JobStatus enumerates AI job states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// AIJob is the durable record of a generation or evaluation request.
// DedupeKey is unique so concurrent triggers for the same unit of work share one row.
type AIJob struct {
	ID           string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type         JobType           `gorm:"size:16;not null;index" json:"type"`
	Status       JobStatus         `gorm:"size:16;not null;index" json:"status"`
	DedupeKey    string            `gorm:"size:160;not null;uniqueIndex" json:"dedupe_key"`
	Payload      datatypes.JSONMap `json:"payload"`
	Result       datatypes.JSONMap `json:"result"`
	Attempts     int               `gorm:"not null;default:0" json:"attempts"`
	ErrorMessage string            `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	AttemptLog   []AIJobAttempt    `gorm:"foreignKey:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"attempt_log,omitempty"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (j *AIJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

// TableName pins the table name.
func (j AIJob) TableName() string {
	return "ai_jobs"
}

// PayloadString reads a string field from the job payload.
func (j AIJob) PayloadString(key string) string {
	if j.Payload == nil {
		return ""
	}
	if value, ok := j.Payload[key].(string); ok {
		return value
	}
	return ""
}

// AIJobAttempt is one processing attempt of an AIJob. Rows are append-only.
type AIJobAttempt struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	JobID     string    `gorm:"type:varchar(36);not null;index" json:"job_id"`
	Attempt   int       `gorm:"not null" json:"attempt"`
	Status    JobStatus `gorm:"size:16;not null" json:"status"`
	Error     string    `gorm:"type:text" json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (a *AIJobAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// TableName pins the table name.
func (a AIJobAttempt) TableName() string {
	return "ai_job_attempts"
}

// All returns every model managed by the service, in migration order.
func All() []interface{} {
	return []interface{}{
		&Syllabus{},
		&Assessment{},
		&Session{},
		&SectionSubmission{},
		&AIJob{},
		&AIJobAttempt{},
	}
}
