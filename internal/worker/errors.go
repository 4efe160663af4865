package worker

import "errors"

var (
	// ErrInvalidJobPayload indicates the job row lacks the fields its handler needs.
	ErrInvalidJobPayload = errors.New("invalid job payload")
	// ErrUnexpectedJobType indicates a job was delivered on the wrong queue.
	ErrUnexpectedJobType = errors.New("unexpected job type")
	// ErrSyllabusChanged indicates the stored syllabi no longer match the job's fingerprint.
	ErrSyllabusChanged = errors.New("syllabus set changed since generation was triggered")
	// ErrSessionNotCompleted indicates an evaluation job for a session that is not COMPLETED.
	ErrSessionNotCompleted = errors.New("session not completed")
	// ErrInvalidAssessment indicates the AI returned content that cannot be used.
	ErrInvalidAssessment = errors.New("generated assessment is invalid")
)
